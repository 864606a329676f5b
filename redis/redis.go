// Package redis provides a missive provider for Redis Streams.
//
// Each message is one stream entry. The body is stored under the "body"
// field and every property under "h:<name>".
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/missive"
)

const (
	bodyField    = "body"
	headerPrefix = "h:"
)

// Provider implements missive.Provider for Redis Streams.
type Provider struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	maxLen   int64
	block    time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithClient sets the Redis client.
func WithClient(c *redis.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithGroup sets the consumer group for acknowledgment.
// The group is created on first subscribe when missing.
func WithGroup(group string) Option {
	return func(p *Provider) {
		p.group = group
	}
}

// WithConsumer sets the consumer name within the group.
func WithConsumer(consumer string) Option {
	return func(p *Provider) {
		p.consumer = consumer
	}
}

// WithMaxLen caps the stream at approximately n entries on publish.
func WithMaxLen(n int64) Option {
	return func(p *Provider) {
		p.maxLen = n
	}
}

// WithBlock sets how long a single read waits for new entries (default: 1s).
func WithBlock(d time.Duration) Option {
	return func(p *Provider) {
		p.block = d
	}
}

// New creates a Redis provider for the given stream.
func New(stream string, opts ...Option) *Provider {
	p := &Provider{
		stream:   stream,
		consumer: "missive",
		block:    time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish appends msg to the stream.
func (p *Provider) Publish(ctx context.Context, msg *missive.Message) error {
	if p.client == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}

	values := make(map[string]any, len(headers)+1)
	values[bodyField] = body
	for k, v := range headers {
		values[headerPrefix+k] = v
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}

// Subscribe returns a stream of deliveries from the Redis stream.
// Without a group the stream is read from the beginning and Ack is a no-op.
// With a group, Ack issues XACK and Nack leaves the entry pending for reclaim.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.client == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	if p.group != "" {
		if err := p.ensureGroup(ctx); err != nil {
			go func() {
				defer close(out)
				select {
				case out <- missive.NewError[missive.Delivery](err):
				case <-ctx.Done():
				}
			}()
			return out
		}
	}

	go func() {
		defer close(out)

		lastID := "0"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := p.read(ctx, lastID)
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				select {
				case out <- missive.NewError[missive.Delivery](err):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, stream := range streams {
				for _, entry := range stream.Messages {
					lastID = entry.ID

					select {
					case out <- p.decode(entry):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out
}

func (p *Provider) ensureGroup(ctx context.Context) error {
	err := p.client.XGroupCreateMkStream(ctx, p.stream, p.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (p *Provider) read(ctx context.Context, lastID string) ([]redis.XStream, error) {
	if p.group != "" {
		return p.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.group,
			Consumer: p.consumer,
			Streams:  []string{p.stream, ">"},
			Count:    10,
			Block:    p.block,
		}).Result()
	}
	return p.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{p.stream, lastID},
		Count:   10,
		Block:   p.block,
	}).Result()
}

func (p *Provider) decode(entry redis.XMessage) missive.Result[missive.Delivery] {
	var body []byte
	props := make(missive.Properties, len(entry.Values))
	for k, v := range entry.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == bodyField:
			body = []byte(s)
		case strings.HasPrefix(k, headerPrefix):
			props[strings.TrimPrefix(k, headerPrefix)] = s
		}
	}

	msg, err := missive.Decode(body, props)
	if err != nil {
		// Acknowledge entries that can never be decoded so they leave the pending list.
		_ = p.ack(entry.ID)
		return missive.NewError[missive.Delivery](err)
	}

	id := entry.ID
	return missive.NewSuccess(missive.Delivery{
		Message: msg,
		Ack: func() error {
			return p.ack(id)
		},
		Nack: func() error {
			return nil
		},
	})
}

func (p *Provider) ack(id string) error {
	if p.group == "" {
		return nil
	}
	// Background context: ack should succeed even if the subscription context is cancelled.
	return p.client.XAck(context.Background(), p.stream, p.group, id).Err()
}

// Ping verifies Redis connectivity.
func (p *Provider) Ping(ctx context.Context) error {
	if p.client == nil {
		return missive.ErrNoWriter
	}
	return p.client.Ping(ctx).Err()
}

// Close releases Redis resources.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

var _ missive.Provider = (*Provider)(nil)

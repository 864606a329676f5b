// Package kafka provides a missive provider for Apache Kafka.
// Message properties travel as Kafka record headers.
package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"github.com/zoobzio/missive"
)

// Writer defines the interface for Kafka message production.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reader defines the interface for Kafka message consumption.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Provider implements missive.Provider for Kafka.
type Provider struct {
	writer      Writer
	reader      Reader
	topic       string
	keyProperty string
}

// Option configures a Provider.
type Option func(*Provider)

// WithWriter sets the Kafka writer for publishing.
func WithWriter(w Writer) Option {
	return func(p *Provider) {
		p.writer = w
	}
}

// WithReader sets the Kafka reader for subscribing.
func WithReader(r Reader) Option {
	return func(p *Provider) {
		p.reader = r
	}
}

// WithKeyProperty uses the named message property as the record key,
// keeping messages that share it on the same partition.
func WithKeyProperty(name string) Option {
	return func(p *Provider) {
		p.keyProperty = name
	}
}

// New creates a Kafka provider for the given topic.
func New(topic string, opts ...Option) *Provider {
	p := &Provider{
		topic: topic,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes msg to the topic.
func (p *Provider) Publish(ctx context.Context, msg *missive.Message) error {
	if p.writer == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}

	record := kafka.Message{
		Topic:   p.topic,
		Value:   body,
		Headers: make([]kafka.Header, 0, len(headers)),
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}
	if p.keyProperty != "" {
		if key, ok := headers.GetString(p.keyProperty); ok {
			record.Key = []byte(key)
		}
	}

	return p.writer.WriteMessages(ctx, record)
}

// Subscribe returns a stream of deliveries from Kafka.
// Ack commits the offset. Nack leaves it uncommitted so the record is
// redelivered to the next consumer of the partition.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.reader == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			record, err := p.reader.FetchMessage(ctx)
			if err != nil {
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

			select {
			case out <- p.decode(ctx, record):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (p *Provider) decode(ctx context.Context, record kafka.Message) missive.Result[missive.Delivery] {
	props := make(missive.Properties, len(record.Headers))
	for _, h := range record.Headers {
		props[h.Key] = string(h.Value)
	}

	msg, err := missive.Decode(record.Value, props)
	if err != nil {
		// Commit past records that can never be decoded.
		_ = p.reader.CommitMessages(ctx, record)
		return missive.NewError[missive.Delivery](err)
	}

	return missive.NewSuccess(missive.Delivery{
		Message: msg,
		Ack: func() error {
			return p.reader.CommitMessages(ctx, record)
		},
		Nack: func() error {
			return nil
		},
	})
}

// Ping reports whether a writer or reader is configured.
// kafka-go dials lazily, so there is no connection to probe.
func (p *Provider) Ping(_ context.Context) error {
	if p.writer == nil && p.reader == nil {
		return missive.ErrNoWriter
	}
	return nil
}

// Close releases Kafka resources.
func (p *Provider) Close() error {
	var firstErr error
	if p.writer != nil {
		if err := p.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.reader != nil {
		if err := p.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ missive.Provider = (*Provider)(nil)
	_ Writer           = (*kafka.Writer)(nil)
	_ Reader           = (*kafka.Reader)(nil)
)

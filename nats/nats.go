// Package nats provides a missive provider for core NATS messaging.
// Message properties travel as NATS headers.
package nats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/zoobzio/missive"
)

// Provider implements missive.Provider for core NATS.
type Provider struct {
	conn       *nats.Conn
	subject    string
	queueGroup string
	mu         sync.Mutex
	sub        *nats.Subscription
}

// Option configures a Provider.
type Option func(*Provider)

// WithConn sets the NATS connection.
func WithConn(c *nats.Conn) Option {
	return func(p *Provider) {
		p.conn = c
	}
}

// WithQueueGroup subscribes as a member of the named queue group,
// so each message is delivered to one member only.
func WithQueueGroup(group string) Option {
	return func(p *Provider) {
		p.queueGroup = group
	}
}

// New creates a NATS provider for the given subject.
func New(subject string, opts ...Option) *Provider {
	p := &Provider{
		subject: subject,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg to the subject with its properties as headers.
func (p *Provider) Publish(_ context.Context, msg *missive.Message) error {
	if p.conn == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}
	return p.conn.PublishMsg(&nats.Msg{
		Subject: p.subject,
		Data:    body,
		Header:  toHeader(headers),
	})
}

// Subscribe returns a stream of deliveries from the subject.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.conn == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	sub, err := p.subscribe()
	if err != nil {
		go func() {
			out <- missive.NewError[missive.Delivery](err)
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

			msg, err := sub.NextMsg(100 * time.Millisecond)
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				if ctx.Err() != nil || errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
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
			case out <- decode(msg):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (p *Provider) subscribe() (*nats.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		sub *nats.Subscription
		err error
	)
	if p.queueGroup != "" {
		sub, err = p.conn.QueueSubscribeSync(p.subject, p.queueGroup)
	} else {
		sub, err = p.conn.SubscribeSync(p.subject)
	}
	if err != nil {
		return nil, err
	}
	p.sub = sub
	return sub, nil
}

func decode(msg *nats.Msg) missive.Result[missive.Delivery] {
	m, err := missive.Decode(msg.Data, fromHeader(msg.Header))
	if err != nil {
		return missive.NewError[missive.Delivery](err)
	}
	return missive.NewSuccess(missive.Delivery{
		Message: m,
		// Core NATS has no acknowledgment.
		Ack:  func() error { return nil },
		Nack: func() error { return nil },
	})
}

// toHeader copies properties into a NATS header without canonicalizing keys.
func toHeader(props missive.Properties) nats.Header {
	h := make(nats.Header, len(props))
	for k, v := range props {
		h[k] = []string{v}
	}
	return h
}

// fromHeader keeps the first value of every header.
func fromHeader(h nats.Header) missive.Properties {
	props := make(missive.Properties, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			props[k] = vs[0]
		}
	}
	return props
}

// Ping verifies NATS connectivity.
func (p *Provider) Ping(ctx context.Context) error {
	if p.conn == nil {
		return missive.ErrNoWriter
	}
	return p.conn.FlushWithContext(ctx)
}

// Close unsubscribes and closes the connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

var _ missive.Provider = (*Provider)(nil)

// Package jetstream provides a missive provider for NATS JetStream.
// Unlike NATS core, JetStream persists messages and supports acknowledgments.
package jetstream

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/missive"
)

// Provider implements missive.Provider for NATS JetStream.
type Provider struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	stream   string
	subject  string
	mu       sync.Mutex
	messages jetstream.MessagesContext
}

// Option configures a Provider.
type Option func(*Provider)

// WithJetStream sets the JetStream context.
func WithJetStream(js jetstream.JetStream) Option {
	return func(p *Provider) {
		p.js = js
	}
}

// WithConsumer sets the JetStream consumer for subscribing.
func WithConsumer(c jetstream.Consumer) Option {
	return func(p *Provider) {
		p.consumer = c
	}
}

// WithStream names the stream Ping checks for.
func WithStream(stream string) Option {
	return func(p *Provider) {
		p.stream = stream
	}
}

// New creates a JetStream provider for the given subject.
func New(subject string, opts ...Option) *Provider {
	p := &Provider{
		subject: subject,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg to JetStream and waits for the stream to acknowledge it.
// A publisher-assigned Message-Id doubles as the JetStream dedup id.
func (p *Provider) Publish(ctx context.Context, msg *missive.Message) error {
	if p.js == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}

	out := &nats.Msg{
		Subject: p.subject,
		Data:    body,
		Header:  make(nats.Header, len(headers)),
	}
	for k, v := range headers {
		out.Header[k] = []string{v}
	}

	var opts []jetstream.PublishOpt
	if id, ok := headers.GetString(missive.HeaderMessageID); ok {
		opts = append(opts, jetstream.WithMsgID(id))
	}

	_, err = p.js.PublishMsg(ctx, out, opts...)
	return err
}

// Subscribe returns a stream of deliveries from the consumer.
// Messages that cannot be decoded are terminated so they are not redelivered.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.consumer == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	messages, err := p.consumer.Messages()
	if err != nil {
		go func() {
			out <- missive.NewError[missive.Delivery](err)
			close(out)
		}()
		return out
	}
	p.mu.Lock()
	p.messages = messages
	p.mu.Unlock()

	go func() {
		defer close(out)
		defer messages.Stop()

		for {
			msg, err := messages.Next(jetstream.NextContext(ctx))
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
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

func decode(msg jetstream.Msg) missive.Result[missive.Delivery] {
	props := make(missive.Properties, len(msg.Headers()))
	for k, vs := range msg.Headers() {
		if len(vs) > 0 {
			props[k] = vs[0]
		}
	}

	m, err := missive.Decode(msg.Data(), props)
	if err != nil {
		_ = msg.Term()
		return missive.NewError[missive.Delivery](err)
	}
	return missive.NewSuccess(missive.Delivery{
		Message: m,
		Ack:     msg.Ack,
		Nack:    msg.Nak,
	})
}

// Ping verifies JetStream connectivity, and the stream when one is named.
func (p *Provider) Ping(ctx context.Context) error {
	if p.js == nil {
		return missive.ErrNoWriter
	}
	if p.stream != "" {
		_, err := p.js.Stream(ctx, p.stream)
		return err
	}
	_, err := p.js.AccountInfo(ctx)
	return err
}

// Close stops any active consumption.
// The connection belongs to the caller.
func (p *Provider) Close() error {
	p.mu.Lock()
	messages := p.messages
	p.messages = nil
	p.mu.Unlock()

	if messages != nil {
		messages.Stop()
	}
	return nil
}

var _ missive.Provider = (*Provider)(nil)

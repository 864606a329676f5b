// Package pubsub provides a missive provider for Google Cloud Pub/Sub.
// Message properties travel as Pub/Sub attributes.
package pubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
	"github.com/zoobzio/missive"
)

// Provider implements missive.Provider for Google Cloud Pub/Sub.
type Provider struct {
	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	orderingKey string
}

// Option configures a Provider.
type Option func(*Provider)

// WithTopic sets the Pub/Sub topic for publishing.
func WithTopic(t *pubsub.Topic) Option {
	return func(p *Provider) {
		p.topic = t
	}
}

// WithSubscription sets the Pub/Sub subscription for consuming.
func WithSubscription(s *pubsub.Subscription) Option {
	return func(p *Provider) {
		p.sub = s
	}
}

// WithOrderingKeyProperty uses the named message property as the ordering key.
// The topic must have message ordering enabled.
func WithOrderingKeyProperty(name string) Option {
	return func(p *Provider) {
		p.orderingKey = name
	}
}

// New creates a Pub/Sub provider.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg to the topic and waits for the server to accept it.
func (p *Provider) Publish(ctx context.Context, msg *missive.Message) error {
	if p.topic == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}

	out := &pubsub.Message{
		Data:       body,
		Attributes: map[string]string(headers),
	}
	if p.orderingKey != "" {
		if key, ok := headers.GetString(p.orderingKey); ok {
			out.OrderingKey = key
		}
	}

	_, err = p.topic.Publish(ctx, out).Get(ctx)
	return err
}

// Subscribe returns a stream of deliveries from the subscription.
// Messages that cannot be decoded are acknowledged and reported as errors.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.sub == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	go func() {
		defer close(out)

		err := p.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			select {
			case out <- decode(msg):
			case <-ctx.Done():
				msg.Nack()
			}
		})

		if err != nil && ctx.Err() == nil {
			select {
			case out <- missive.NewError[missive.Delivery](err):
			case <-ctx.Done():
			}
		}
	}()

	return out
}

func decode(msg *pubsub.Message) missive.Result[missive.Delivery] {
	m, err := missive.Decode(msg.Data, missive.Properties(msg.Attributes))
	if err != nil {
		msg.Ack()
		return missive.NewError[missive.Delivery](err)
	}
	return missive.NewSuccess(missive.Delivery{
		Message: m,
		Ack: func() error {
			msg.Ack()
			return nil
		},
		Nack: func() error {
			msg.Nack()
			return nil
		},
	})
}

// Ping verifies Pub/Sub connectivity by checking topic and subscription existence.
func (p *Provider) Ping(ctx context.Context) error {
	if p.topic == nil && p.sub == nil {
		return missive.ErrNoWriter
	}
	if p.topic != nil {
		exists, err := p.topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return missive.ErrNoWriter
		}
	}
	if p.sub != nil {
		exists, err := p.sub.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return missive.ErrNoReader
		}
	}
	return nil
}

// Close flushes pending publishes.
func (p *Provider) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	return nil
}

var _ missive.Provider = (*Provider)(nil)

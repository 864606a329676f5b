// Package amqp provides a missive provider for RabbitMQ via AMQP 0-9-1.
//
// Content-Type and Message-Id travel in the native AMQP properties.
// Every other message property becomes an AMQP header.
package amqp

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zoobzio/missive"
)

// Provider implements missive.Provider for RabbitMQ.
type Provider struct {
	channel    *amqp.Channel
	exchange   string
	queue      string
	key        string
	persistent bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithChannel sets the AMQP channel.
func WithChannel(ch *amqp.Channel) Option {
	return func(p *Provider) {
		p.channel = ch
	}
}

// WithExchange sets the exchange name for publishing.
func WithExchange(exchange string) Option {
	return func(p *Provider) {
		p.exchange = exchange
	}
}

// WithRoutingKey sets the routing key for publishing.
func WithRoutingKey(key string) Option {
	return func(p *Provider) {
		p.key = key
	}
}

// WithPersistent marks published messages as persistent.
func WithPersistent() Option {
	return func(p *Provider) {
		p.persistent = true
	}
}

// New creates a RabbitMQ provider for the given queue.
func New(queue string, opts ...Option) *Provider {
	p := &Provider{
		queue: queue,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg to the configured exchange and routing key.
func (p *Provider) Publish(ctx context.Context, msg *missive.Message) error {
	if p.channel == nil {
		return missive.ErrNoWriter
	}

	body, headers, err := missive.Encode(msg)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		Headers: make(amqp.Table, len(headers)),
		Body:    body,
	}
	for k, v := range headers {
		switch k {
		case missive.HeaderContentType:
			pub.ContentType = v
		case missive.HeaderMessageID:
			pub.MessageId = v
		default:
			pub.Headers[k] = v
		}
	}
	if p.persistent {
		pub.DeliveryMode = amqp.Persistent
	}

	return p.channel.PublishWithContext(ctx, p.exchange, p.key, false, false, pub)
}

// Subscribe returns a stream of deliveries from the queue.
// Nack requeues the delivery. Deliveries that cannot be decoded are rejected
// without requeue so they reach a dead-letter exchange when one is configured.
func (p *Provider) Subscribe(ctx context.Context) <-chan missive.Result[missive.Delivery] {
	out := make(chan missive.Result[missive.Delivery])

	if p.channel == nil {
		go func() {
			out <- missive.NewError[missive.Delivery](missive.ErrNoReader)
			close(out)
		}()
		return out
	}

	deliveries, err := p.channel.ConsumeWithContext(ctx, p.queue, "", false, false, false, false, nil)
	if err != nil {
		go func() {
			defer close(out)
			select {
			case out <- missive.NewError[missive.Delivery](err):
			case <-ctx.Done():
			}
		}()
		return out
	}

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}

				select {
				case out <- decode(delivery):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func decode(d amqp.Delivery) missive.Result[missive.Delivery] {
	props := make(missive.Properties, len(d.Headers)+2)
	for k, v := range d.Headers {
		props[k] = headerValueToString(v)
	}
	if d.ContentType != "" {
		props[missive.HeaderContentType] = d.ContentType
	}
	if d.MessageId != "" {
		props[missive.HeaderMessageID] = d.MessageId
	}

	msg, err := missive.Decode(d.Body, props)
	if err != nil {
		_ = d.Reject(false)
		return missive.NewError[missive.Delivery](err)
	}

	return missive.NewSuccess(missive.Delivery{
		Message: msg,
		Ack: func() error {
			return d.Ack(false)
		},
		Nack: func() error {
			return d.Nack(false, true) // requeue
		},
	})
}

// Ping verifies AMQP connectivity by checking channel status.
func (p *Provider) Ping(_ context.Context) error {
	if p.channel == nil || p.channel.IsClosed() {
		return missive.ErrNoWriter
	}
	return nil
}

// Close releases AMQP resources.
func (p *Provider) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

// headerValueToString converts AMQP header values to strings.
// Arrays are joined with commas.
func headerValueToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, headerValueToString(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}

var _ missive.Provider = (*Provider)(nil)

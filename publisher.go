package missive

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// Internal identities for publisher.
var (
	publishID         = pipz.NewIdentity("missive:publish", "Converts and publishes to broker")
	publishPipelineID = pipz.NewIdentity("missive:publisher", "Publisher pipeline")
)

// Publisher converts values of T into messages and publishes them to a broker.
// Values arrive either from a Capitan signal (Start) or directly (Publish).
type Publisher[T any] struct {
	provider  Provider
	signal    capitan.Signal
	key       capitan.GenericKey[T]
	capitan   *capitan.Capitan
	converter Converter
	session   Session
	pipeline  *pipz.Pipeline[*Envelope[T]]
	observer  *capitan.Observer
	inflight  sync.WaitGroup
}

// PublisherOption configures a Publisher.
type PublisherOption[T any] func(*Publisher[T])

// WithPublisherCapitan sets a custom Capitan instance for the publisher.
func WithPublisherCapitan[T any](c *capitan.Capitan) PublisherOption[T] {
	return func(p *Publisher[T]) {
		p.capitan = c
	}
}

// WithPublisherConverter sets the converter.
// If not specified, a JSONConverter whose registry has T registered is used.
func WithPublisherConverter[T any](c Converter) PublisherOption[T] {
	return func(p *Publisher[T]) {
		p.converter = c
	}
}

// WithPublisherSession sets the session used to create messages.
// If not specified, NewSession is used.
func WithPublisherSession[T any](s Session) PublisherOption[T] {
	return func(p *Publisher[T]) {
		p.session = s
	}
}

// NewPublisher creates a Publisher for T.
//
// Parameters:
//   - provider: broker implementation (kafka, nats, sqs, etc.)
//   - signal: capitan signal observed by Start
//   - key: typed key for extracting T from events
//   - pipelineOpts: reliability middleware (retry, timeout, circuit breaker); nil for none
//   - opts: publisher configuration (converter, session, capitan instance)
func NewPublisher[T any](provider Provider, signal capitan.Signal, key capitan.GenericKey[T], pipelineOpts []Option[T], opts ...PublisherOption[T]) *Publisher[T] {
	p := &Publisher[T]{
		provider: provider,
		signal:   signal,
		key:      key,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.converter == nil {
		p.converter = defaultConverter[T]()
	}
	if p.session == nil {
		p.session = NewSession()
	}

	chain := newPublishTerminal[T](provider, p.converter, p.session)
	for _, opt := range pipelineOpts {
		chain = opt(chain)
	}
	p.pipeline = pipz.NewPipeline(publishPipelineID, chain)

	return p
}

// defaultConverter returns a JSONConverter with T registered under its qualified name.
// Plain payload types and interface types need no registration and are skipped.
// Panics if registration fails, which on a fresh registry is a programming error.
func defaultConverter[T any]() *JSONConverter {
	registry := NewTypeRegistry()
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Interface && !isPlainType(t) {
		if _, err := Register[T](registry); err != nil {
			panic(fmt.Sprintf("missive: register %v: %v", t, err))
		}
	}
	return NewJSONConverter(WithTypeMapper(registry))
}

// newPublishTerminal converts the envelope value and publishes the resulting message.
func newPublishTerminal[T any](provider Provider, converter Converter, session Session) pipz.Chainable[*Envelope[T]] {
	return pipz.Apply(publishID, func(ctx context.Context, env *Envelope[T]) (*Envelope[T], error) {
		msg, err := converter.ToMessage(env.Value, session)
		if err != nil {
			return env, err
		}
		if msg.Properties == nil {
			msg.Properties = make(Properties)
		}
		for k, v := range env.Properties {
			if !msg.Properties.Has(k) {
				msg.Properties.SetString(k, v)
			}
		}
		if !msg.Properties.Has(HeaderMessageID) {
			msg.Properties.SetString(HeaderMessageID, uuid.NewString())
		}
		return env, provider.Publish(ctx, msg)
	})
}

// Publish converts value and sends it through the pipeline.
// Errors are returned to the caller and also emitted to ErrorSignal.
func (p *Publisher[T]) Publish(ctx context.Context, value T, props ...Properties) error {
	env := &Envelope[T]{
		Value:      value,
		Properties: make(Properties),
	}
	for _, extra := range props {
		for k, v := range extra {
			env.Properties.SetString(k, v)
		}
	}

	if _, err := p.pipeline.Process(ctx, env); err != nil {
		p.emitError(ctx, err.Error())
		return err
	}
	return nil
}

// Start begins observing the signal and publishing each value to the broker.
func (p *Publisher[T]) Start() {
	callback := func(ctx context.Context, e *capitan.Event) {
		p.inflight.Add(1)
		defer p.inflight.Done()

		value, ok := p.key.From(e)
		if !ok {
			return
		}
		_ = p.Publish(ctx, value)
	}

	if p.capitan != nil {
		p.observer = p.capitan.Observe(callback, p.signal)
	} else {
		p.observer = capitan.Observe(callback, p.signal)
	}
}

// emitError emits an error event to ErrorSignal.
func (p *Publisher[T]) emitError(ctx context.Context, errMsg string) {
	e := Error{
		Operation: "publish",
		Signal:    p.signal.Name(),
		Err:       errMsg,
	}
	if p.capitan != nil {
		p.capitan.Emit(ctx, ErrorSignal, ErrorKey.Field(e))
	} else {
		capitan.Emit(ctx, ErrorSignal, ErrorKey.Field(e))
	}
}

// Close stops observing, waits for in-flight publishes and releases the pipeline.
// The provider is not closed; it may be shared.
func (p *Publisher[T]) Close() error {
	if p.observer != nil {
		p.observer.Close()
	}
	p.inflight.Wait()
	if p.pipeline != nil {
		return p.pipeline.Close()
	}
	return nil
}

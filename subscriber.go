package missive

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

var emitID = pipz.NewIdentity("missive:emit", "Emits converted value to capitan")

// Subscriber consumes deliveries from a broker, converts each message into a T
// and emits it to a Capitan signal.
type Subscriber[T any] struct {
	provider  Provider
	signal    capitan.Signal
	key       capitan.GenericKey[T]
	capitan   *capitan.Capitan
	converter Converter
	pipeline  pipz.Chainable[*Envelope[T]]
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// SubscriberOption configures a Subscriber.
type SubscriberOption[T any] func(*Subscriber[T])

// WithSubscriberCapitan sets a custom Capitan instance for the subscriber.
func WithSubscriberCapitan[T any](c *capitan.Capitan) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.capitan = c
	}
}

// WithSubscriberConverter sets the converter.
// If not specified, a JSONConverter whose registry has T registered is used.
func WithSubscriberConverter[T any](c Converter) SubscriberOption[T] {
	return func(s *Subscriber[T]) {
		s.converter = c
	}
}

// NewSubscriber creates a Subscriber that consumes from the broker and emits T to signal.
// Pipeline options wrap the emit operation with reliability features.
func NewSubscriber[T any](provider Provider, signal capitan.Signal, key capitan.GenericKey[T], pipelineOpts []Option[T], opts ...SubscriberOption[T]) *Subscriber[T] {
	s := &Subscriber[T]{
		provider: provider,
		signal:   signal,
		key:      key,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.converter == nil {
		s.converter = defaultConverter[T]()
	}

	var pipeline = newSubscribeTerminal(s)
	for _, opt := range pipelineOpts {
		pipeline = opt(pipeline)
	}
	s.pipeline = pipeline

	return s
}

// newSubscribeTerminal emits the converted value, with its properties, to Capitan.
func newSubscribeTerminal[T any](s *Subscriber[T]) pipz.Chainable[*Envelope[T]] {
	return pipz.Effect(emitID, func(ctx context.Context, env *Envelope[T]) error {
		switch {
		case s.capitan != nil && env.Properties != nil:
			s.capitan.Emit(ctx, s.signal, s.key.Field(env.Value), PropertiesKey.Field(env.Properties))
		case s.capitan != nil:
			s.capitan.Emit(ctx, s.signal, s.key.Field(env.Value))
		case env.Properties != nil:
			capitan.Emit(ctx, s.signal, s.key.Field(env.Value), PropertiesKey.Field(env.Properties))
		default:
			capitan.Emit(ctx, s.signal, s.key.Field(env.Value))
		}
		return nil
	})
}

// Start begins consuming from the broker.
func (s *Subscriber[T]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	deliveries := s.provider.Subscribe(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case result, ok := <-deliveries:
				if !ok {
					return
				}
				if result.IsError() {
					s.emitError(ctx, "subscribe", result.Error().Error(), false, nil)
					continue
				}
				s.process(ctx, result.Value())
			}
		}
	}()
}

// process converts the message, runs the pipeline and acks or nacks.
func (s *Subscriber[T]) process(ctx context.Context, d Delivery) {
	value, err := s.convert(d.Message)
	if err != nil {
		s.nack(ctx, d)
		var raw []byte
		if d.Message != nil {
			raw, _, _ = Encode(d.Message)
		}
		s.emitError(ctx, "convert", err.Error(), true, raw)
		return
	}

	var props Properties
	if d.Message != nil {
		props = d.Message.Properties
	}
	if props != nil {
		ctx = ContextWithProperties(ctx, props)
	}

	env := &Envelope[T]{Value: value, Properties: props}
	if _, err := s.pipeline.Process(ctx, env); err != nil {
		s.nack(ctx, d)
		s.emitError(ctx, "subscribe", err.Error(), true, nil)
		return
	}

	if d.Ack != nil {
		if ackErr := d.Ack(); ackErr != nil {
			s.emitError(ctx, "ack", ackErr.Error(), false, nil)
		}
	}
}

// convert runs FromMessage and narrows the result to T.
func (s *Subscriber[T]) convert(msg *Message) (T, error) {
	var zero T
	v, err := s.converter.FromMessage(msg)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("missive: converted payload is %T, subscriber expects %v", v, reflect.TypeFor[T]())
	}
	return typed, nil
}

func (s *Subscriber[T]) nack(ctx context.Context, d Delivery) {
	if d.Nack == nil {
		return
	}
	if err := d.Nack(); err != nil {
		s.emitError(ctx, "nack", err.Error(), false, nil)
	}
}

// emitError emits an error event to ErrorSignal.
func (s *Subscriber[T]) emitError(ctx context.Context, operation, errMsg string, nack bool, raw []byte) {
	e := Error{
		Operation: operation,
		Signal:    s.signal.Name(),
		Err:       errMsg,
		Nack:      nack,
		Raw:       raw,
	}
	if s.capitan != nil {
		s.capitan.Emit(ctx, ErrorSignal, ErrorKey.Field(e))
	} else {
		capitan.Emit(ctx, ErrorSignal, ErrorKey.Field(e))
	}
}

// Close stops consuming and waits for the consumer goroutine to exit.
func (s *Subscriber[T]) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

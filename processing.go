package missive

import (
	"context"

	"github.com/zoobzio/pipz"
)

// WithApply runs fn before the wrapped pipeline. fn may rewrite the envelope
// (value or properties) and aborts processing by returning an error.
func WithApply[T any](name string, fn func(context.Context, *Envelope[T]) (*Envelope[T], error)) Option[T] {
	id := pipz.NewIdentity(name, "Envelope apply stage")
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewSequence(id, pipz.Apply(id, fn), pipeline)
	}
}

// WithEffect runs fn before the wrapped pipeline without changing the envelope.
// Returning an error aborts processing.
func WithEffect[T any](name string, fn func(context.Context, *Envelope[T]) error) Option[T] {
	id := pipz.NewIdentity(name, "Envelope effect stage")
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewSequence(id, pipz.Effect(id, fn), pipeline)
	}
}

// WithTransform runs an infallible fn before the wrapped pipeline.
func WithTransform[T any](name string, fn func(context.Context, *Envelope[T]) *Envelope[T]) Option[T] {
	id := pipz.NewIdentity(name, "Envelope transform stage")
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewSequence(id, pipz.Transform(id, fn), pipeline)
	}
}

// WithProperty sets key to value on every envelope that does not already carry it.
func WithProperty[T any](key, value string) Option[T] {
	return WithTransform[T]("property:"+key, func(_ context.Context, env *Envelope[T]) *Envelope[T] {
		if env.Properties == nil {
			env.Properties = make(Properties)
		}
		if !env.Properties.Has(key) {
			env.Properties.SetString(key, value)
		}
		return env
	})
}

package missive

import (
	"time"

	"github.com/zoobzio/pipz"
)

// Internal identities for reliability options.
var (
	retryID          = pipz.NewIdentity("missive:retry", "Retries failed conversions and sends")
	backoffID        = pipz.NewIdentity("missive:backoff", "Retries with exponential backoff")
	timeoutID        = pipz.NewIdentity("missive:timeout", "Bounds send or emit duration")
	circuitBreakerID = pipz.NewIdentity("missive:circuit-breaker", "Stops calling a failing broker")
	rateLimitID      = pipz.NewIdentity("missive:rate-limit", "Limits send or emit rate")
	errorHandlerID   = pipz.NewIdentity("missive:error-handler", "Routes pipeline errors")
	fallbackID       = pipz.NewIdentity("missive:fallback", "Tries alternative pipelines")
)

// Option wraps a publisher or subscriber pipeline with extra behavior.
// The innermost stage is the terminal: convert-and-publish for publishers, emit for subscribers.
// Options apply in order, so a later option wraps every earlier one.
type Option[T any] func(pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]]

// WithRetry adds immediate retries to the pipeline.
// A failed conversion or send is attempted again, up to maxAttempts times in total.
// Conversion errors are deterministic, so retries mostly help with transient broker failures.
func WithRetry[T any](maxAttempts int) Option[T] {
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewRetry(retryID, pipeline, maxAttempts)
	}
}

// WithBackoff adds retries with exponential backoff to the pipeline.
// The first retry waits baseDelay and each later retry doubles the wait.
// No more than maxAttempts attempts are made.
func WithBackoff[T any](maxAttempts int, baseDelay time.Duration) Option[T] {
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewBackoff(backoffID, pipeline, maxAttempts, baseDelay)
	}
}

// WithTimeout bounds how long the pipeline may run.
// The context passed to the provider or emitter is canceled once duration elapses.
func WithTimeout[T any](duration time.Duration) Option[T] {
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewTimeout(timeoutID, pipeline, duration)
	}
}

// WithCircuitBreaker protects a failing broker from further calls.
// After 'failures' consecutive failures the circuit opens and rejects work for 'recovery'.
func WithCircuitBreaker[T any](failures int, recovery time.Duration) Option[T] {
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewCircuitBreaker(circuitBreakerID, pipeline, failures, recovery)
	}
}

// WithRateLimit throttles the pipeline.
// rate is the sustained number of operations per second and burst the bucket capacity.
func WithRateLimit[T any](rate float64, burst int) Option[T] {
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewRateLimiter(rateLimitID, rate, burst, pipeline)
	}
}

// WithErrorHandler routes pipeline failures to handler.
// The handler sees the failing envelope together with the error and the stage that failed.
// Use it for logging, alerting or dead-lettering. The original error is still returned.
func WithErrorHandler[T any](handler pipz.Chainable[*pipz.Error[*Envelope[T]]]) Option[T] {
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return pipz.NewHandle(errorHandlerID, pipeline, handler)
	}
}

// WithFallback adds alternatives that run when the pipeline fails.
// Each fallback is tried in order until one succeeds.
// A typical fallback publishes to a secondary broker.
func WithFallback[T any](fallbacks ...pipz.Chainable[*Envelope[T]]) Option[T] {
	return func(pipeline pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		all := append([]pipz.Chainable[*Envelope[T]]{pipeline}, fallbacks...)
		return pipz.NewFallback(fallbackID, all...)
	}
}

// WithPipeline takes full control of the processing pipeline.
// custom replaces everything built before it, terminal included, so it must do its own
// conversion and publishing. Options given after it still wrap it.
func WithPipeline[T any](custom pipz.Chainable[*Envelope[T]]) Option[T] {
	return func(_ pipz.Chainable[*Envelope[T]]) pipz.Chainable[*Envelope[T]] {
		return custom
	}
}

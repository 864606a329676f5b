package missive

// Result holds either a value or an error.
// Providers send Results on their Subscribe channel so that decode failures and
// deliveries share one stream.
type Result[T any] struct {
	value T
	err   error
}

// NewSuccess returns a successful Result holding value.
func NewSuccess[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// NewError returns a failed Result holding err.
func NewError[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// IsError reports whether the result holds an error.
func (r Result[T]) IsError() bool {
	return r.err != nil
}

// IsSuccess reports whether the result holds a value.
func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}

// Value returns the value held by a successful Result.
// An error Result yields the zero value of T.
func (r Result[T]) Value() T {
	return r.value
}

// Error returns the error, or nil for a successful result.
func (r Result[T]) Error() error {
	return r.err
}

// Get returns the value and error together.
// It suits the usual `v, err :=` style when the caller handles both cases at once.
func (r Result[T]) Get() (T, error) {
	return r.value, r.err
}

// Package result provides the success/failure wrapper returned by every
// plugin hook invocation. Hooks never panic across their boundary and never
// silently substitute defaults; callers pattern-match on the wrapper and
// decide whether a failure is fatal.
package result

import "fmt"

// Unit is the payload type for results that carry no value.
type Unit struct{}

// Result holds either a value or an error, never both.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Err wraps a failure.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = fmt.Errorf("result: Err called with nil error")
	}
	return Result[T]{err: err}
}

// Done is shorthand for Ok(Unit{}), used by hooks with no payload.
func Done() Result[Unit] {
	return Ok(Unit{})
}

// IsOk reports whether the result holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the result holds an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Get returns the value and error in conventional Go form.
func (r Result[T]) Get() (T, error) { return r.value, r.err }

// Unwrap returns the value and panics on a failure result. Reserved for
// call sites that have already checked IsOk.
func (r Result[T]) Unwrap() T {
	if r.err != nil {
		panic(fmt.Sprintf("result: unwrap of failure: %v", r.err))
	}
	return r.value
}

// UnwrapOr returns the value, or def when the result is a failure.
func (r Result[T]) UnwrapOr(def T) T {
	if r.err != nil {
		return def
	}
	return r.value
}

// Err returns the wrapped error, nil for success results.
func (r Result[T]) Err() error { return r.err }

// Map applies fn to a success value and passes failures through unchanged.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(fn(r.value))
}

// Capture runs fn and converts both returned errors and panics into a
// failure result. The dispatcher wraps every hook call in Capture so that no
// fault escapes a plugin boundary uncaught.
func Capture[T any](fn func() (T, error)) (res Result[T]) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Err[T](fmt.Errorf("recovered panic: %v", rec))
		}
	}()
	value, err := fn()
	if err != nil {
		return Err[T](err)
	}
	return Ok(value)
}

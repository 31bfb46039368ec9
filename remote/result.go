package remote

// Result is the decoded outcome of one remote call: either a value or an
// error, never both. Responses are turned into a Result as soon as they are
// read so nothing downstream ever sees an untyped payload.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps an error. A nil err is replaced with ErrMalformed so a Fail
// result is never mistaken for success.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = ErrMalformed
	}
	return Result[T]{err: err}
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.err == nil }

// Err returns the failure, or nil.
func (r Result[T]) Err() error { return r.err }

// Value returns the success value; it is the zero value on failure.
func (r Result[T]) Value() T { return r.value }

// Unwrap returns the pair in the usual Go form.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

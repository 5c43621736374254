package vstorage

import (
	"errors"
	"fmt"
)

// ErrTransport marks batch-wide failures: the response could not be parsed or
// did not line up with the request. Every path in the round is affected.
var ErrTransport = errors.New("transport error")

// QueryError is a per-path failure reported by the node.
type QueryError struct {
	Path Path
	Code int64
	Log  string
}

func (e *QueryError) Error() string {
	if e.Log != "" {
		return e.Log
	}
	return fmt.Sprintf("query %s failed with code %d", e.Path, e.Code)
}

// DecodeError is a per-path failure to extract a value from a successful
// response.
type DecodeError struct {
	Path Path
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func transportErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

package client

import (
	"errors"
	"fmt"
)

// errors rejected before any network call, state is left unchanged
var (
	ErrEmptyMessage = errors.New("empty message")
	ErrBusy         = errors.New("conversation busy")
)

// TransportError reports a failed request, a stream that could not open,
// or a stream that ended before its done event.
type TransportError struct {
	Op     string
	Status int // HTTP status, zero if no response
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

package synth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned before any network call for malformed input.
	ErrInvalidRequest = errors.New("synth: invalid request")

	// ErrUnreachable means the backend could not be contacted.
	ErrUnreachable = errors.New("synth: backend unreachable")

	// ErrUnauthorized means the backend requires a credential or rejected it.
	ErrUnauthorized = errors.New("synth: backend unauthorized")

	// ErrBackend covers any other non-2xx answer.
	ErrBackend = errors.New("synth: backend error")
)

// BackendError carries the status and detail of a non-2xx backend answer.
// It matches ErrUnauthorized or ErrBackend with errors.Is.
type BackendError struct {
	StatusCode int
	Detail     string
}

func (e *BackendError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("synth: backend status %d", e.StatusCode)
	}
	return fmt.Sprintf("synth: backend status %d: %s", e.StatusCode, e.Detail)
}

func (e *BackendError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrUnauthorized
	}
	return ErrBackend
}

// unreachable wraps a transport failure.
func unreachable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrRefusal is returned when the model declines to transcribe.
	ErrRefusal = errors.New("model refused to transcribe")

	// ErrInvalidText is returned when the response is not valid UTF-8.
	ErrInvalidText = errors.New("response is not valid text")
)

// TransientError is a failure worth retrying: transport errors, timeouts,
// rate limits, server errors, refusals.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("reconcile %s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure that retrying cannot fix, such as a response that
// cannot be read as text or a rejected request.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("reconcile %s: fatal: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

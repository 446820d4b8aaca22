package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackzampolin/pdfmark/internal/providers"
)

// TransientError is a failure that may succeed on retry: timeouts, dropped
// connections, rate limiting, server errors, engine crashes.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ocr %s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure that retrying the same region cannot fix.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("ocr %s: fatal: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classify wraps a provider error. Errors the provider layer knows to be
// permanent are fatal; everything else, including unrecognised errors, is
// transient.
func classify(provider string, err error) error {
	if providers.IsFatal(err) {
		return &FatalError{Provider: provider, Err: err}
	}
	return &TransientError{Provider: provider, Err: err}
}

func isRateLimited(err error) bool {
	var se *providers.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

func isCancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

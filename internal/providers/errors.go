package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	// ErrUnsupportedImage is returned when a provider cannot decode the image it was given.
	ErrUnsupportedImage = errors.New("unsupported image format")

	// ErrEngineCrashed is returned when a local engine fails mid-call.
	ErrEngineCrashed = errors.New("engine crashed")

	// ErrMalformedResponse is returned when a provider answers 200 with a body
	// that cannot be interpreted.
	ErrMalformedResponse = errors.New("malformed response")
)

// StatusError is returned when a provider answers with a non-200 HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the status code indicates a transient condition.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	case 520, 521, 522, 523, 524: // Cloudflare errors
		return true
	default:
		return e.StatusCode >= 500
	}
}

// IsFatal reports whether err is known to be permanent: retrying the same
// request cannot succeed. Errors that are not recognised are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Retryable()
	}
	return errors.Is(err, ErrUnsupportedImage) || errors.Is(err, ErrMalformedResponse)
}

// IsRetryable reports whether err is a known transient failure: timeouts,
// dropped connections, rate limiting, server errors and engine crashes.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, ErrEngineCrashed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

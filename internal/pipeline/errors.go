package pipeline

import "errors"

var (
	// ErrNotFound is returned for unknown document IDs.
	ErrNotFound = errors.New("document not found")

	// ErrNotReady is returned by GetResult while a document is still running.
	ErrNotReady = errors.New("result not ready")

	// ErrNoResult is returned by GetResult for failed and cancelled documents.
	ErrNoResult = errors.New("document has no result")

	// ErrTerminal is returned when cancelling a document that already finished.
	ErrTerminal = errors.New("document already finished")

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidCutoff     = errors.New("heading cutoff must be between 1 and 6")

	// errDiscarded marks a write dropped because the document was cancelled.
	errDiscarded = errors.New("document cancelled")
)

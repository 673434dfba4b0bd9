package errors

import "errors"

var (
	// ErrNotFound is returned when no matching row exists. Distinct from
	// ErrStoreUnavailable so callers can tell "never seen" apart from
	// infrastructure failure.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable is returned when the persistence layer could not
	// be reached or timed out.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidPattern is returned when a pattern is rejected before
	// persistence (empty text, non-serializable parameters).
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrInvalidTransition is returned for status changes not present in
	// the pattern lifecycle transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
)

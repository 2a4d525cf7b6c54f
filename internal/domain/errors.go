package domain

import "errors"

var (
	// ErrInvalidEvent is returned for malformed quiz completion events. The event never touches state.
	ErrInvalidEvent = errors.New("invalid quiz completion event")
	// ErrConcurrentUpdate indicates the stored state changed between load and save.
	ErrConcurrentUpdate = errors.New("concurrent progress update")
	// ErrPersistenceUnavailable wraps failures of the durable store.
	ErrPersistenceUnavailable = errors.New("progress store unavailable")
	// ErrUnknownPeriodKind is returned when a caller names a period that is not tracked.
	ErrUnknownPeriodKind = errors.New("unknown period kind")
	// ErrInvalidSelector is returned for out-of-range dashboard date selectors.
	ErrInvalidSelector = errors.New("invalid date selector")
	// ErrStateNotFound indicates no progress has been recorded for the user yet.
	ErrStateNotFound = errors.New("progress state not found")
)

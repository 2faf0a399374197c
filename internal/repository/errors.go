package repository

import "errors"

var (
	// ErrSessionNotFound covers unknown ids and records the store already expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConflict is a compare-and-swap failure on a concurrent mutate.
	// Callers retry exactly once before surfacing a refresh race.
	ErrConflict = errors.New("session version conflict")
	// ErrFlowNotFound covers unknown, expired or already-consumed flow states.
	ErrFlowNotFound = errors.New("pending flow not found")
	// ErrStoreUnavailable means the backing store could not be reached. It is
	// surfaced as-is: falling back to process-local state would silently break
	// the shared-session guarantee across instances.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

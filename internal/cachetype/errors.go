package cachetype

import "errors"

// Sentinel errors for cache operations.
var (
	// ErrFetch is returned when a remote transfer fails: a transport error,
	// a non-2xx response, or an interrupted body.
	ErrFetch = errors.New("cache: remote fetch failed")

	// ErrIntegrity is returned when stored content does not match its
	// recorded digest.
	ErrIntegrity = errors.New("cache: integrity verification failed")

	// ErrCapacity is returned when a single item is larger than the
	// configured cache budget.
	ErrCapacity = errors.New("cache: entry exceeds capacity")
)

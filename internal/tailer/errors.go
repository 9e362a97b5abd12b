package tailer

import "errors"

// Sentinel errors for the expected-failure kinds named in SPEC_FULL.md §7.
// Ok is simply a nil error; there is no separate success value.
var (
	// ErrNotFound means a log or topic is not currently tracked by a reader.
	ErrNotFound = errors.New("tailer: not found")
	// ErrOutOfOrder means a record or gap did not satisfy
	// event_start == last_read+1 for the reader that received it.
	ErrOutOfOrder = errors.New("tailer: out of order")
	// ErrNoBuffer means the forward queue was full; the caller must retry.
	ErrNoBuffer = errors.New("tailer: no buffer, retry")
	// ErrInternal means an unexpected internal failure, such as a routing
	// failure from the LogRouter.
	ErrInternal = errors.New("tailer: internal error")
	// ErrNotInitialized means Initialize has not been called yet.
	ErrNotInitialized = errors.New("tailer: not initialized")
)

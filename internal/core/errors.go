package core

import "errors"

var (
	// ErrQueueFull signals that the async job queue rejected an enqueue
	// because it is at capacity. Surfaced to the caller, never retried.
	ErrQueueFull = errors.New("job queue is full")

	// ErrSaturated signals that the sync admission gate has no free permits.
	ErrSaturated = errors.New("sync capacity exceeded")

	// ErrTimeout signals that a work execution exceeded its time budget.
	ErrTimeout = errors.New("work execution timed out")

	// ErrNotFound signals that no request record exists for the given ID.
	ErrNotFound = errors.New("request not found")
)

package queue

import "errors"

// Log errors
var (
	// ErrClosed is returned when operations are attempted on a closed queue.
	ErrClosed = errors.New("queue is closed")

	// ErrCorrupted is returned when the durable log is corrupted.
	ErrCorrupted = errors.New("durable log corrupted")

	// ErrVersionMismatch is returned when the log file version doesn't match.
	ErrVersionMismatch = errors.New("durable log version mismatch")

	// ErrTaskCorrupt is returned by Task.Deref when the task's persisted
	// payload could not be deserialized. Per the design, the coordinator
	// completes (drops) such tasks rather than retrying them forever.
	ErrTaskCorrupt = errors.New("task payload is corrupt")

	// ErrNoTask is returned by Take when the timeout elapses with nothing
	// available.
	ErrNoTask = errors.New("no task available")
)

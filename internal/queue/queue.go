// Package queue implements the durable action queue the journal's upload
// coordinator drives: a named, crash-safe FIFO of planned upload work.
// Entries persisted via Put survive process restart; anything not yet
// Complete'd reappears on the next startup.
package queue

import (
	"context"
	"time"
)

// Stats mirrors the durable queue counters the journal's Stats snapshot
// exposes to callers.
type Stats struct {
	InProgress     uint64
	Completed      uint64
	Retried        uint64
	Enqueued       uint64
	NumSlabs       int
	NumActiveSlabs int
}

// Add returns the element-wise sum of two stats snapshots — used when the
// sharder merges per-shard queue stats.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		InProgress:     s.InProgress + o.InProgress,
		Completed:      s.Completed + o.Completed,
		Retried:        s.Retried + o.Retried,
		Enqueued:       s.Enqueued + o.Enqueued,
		NumSlabs:       s.NumSlabs + o.NumSlabs,
		NumActiveSlabs: s.NumActiveSlabs + o.NumActiveSlabs,
	}
}

// Task is a handle returned by Take. Its Action may fail to deserialize if
// the underlying slab is corrupt, in which case Deref returns
// ErrTaskCorrupt and the caller is expected to Complete (drop) it.
type Task struct {
	id      uint64
	topic   string
	action  Action
	corrupt bool
	owner   *LocalQueue
}

// Deref yields the task's action, or the Skip sentinel and ErrTaskCorrupt
// if it could not be deserialized from the durable log.
func (t *Task) Deref() (Action, error) {
	if t.corrupt {
		return Action{Kind: KindSkip}, ErrTaskCorrupt
	}
	return t.action, nil
}

// DurableActionQueue is the external interface the upload coordinator
// depends on. The on-disk format and fsync machinery behind it are
// explicitly out of the core's scope per the design; LocalQueue below is
// one concrete implementation of it.
type DurableActionQueue interface {
	// Put persists action under topic. Survives crashes.
	Put(topic string, action Action) error

	// Take returns the next task handle for topic, blocking up to timeout
	// (or until ctx is done) if none is immediately available. A zero
	// timeout blocks until ctx is done.
	Take(ctx context.Context, topic string, timeout time.Duration) (*Task, error)

	// Complete acknowledges a task durably; it will not reappear on
	// restart.
	Complete(task *Task) error

	// Retry redelivers task for later processing.
	Retry(task *Task) error

	// ImmediateSnapshot peeks at the currently in-memory pending tasks for
	// topic without removing them. Used during recovery.
	ImmediateSnapshot(topic string) ([]*Task, error)

	// Stats returns counters for topic.
	Stats(topic string) Stats

	// Close releases all resources. Safe to call once.
	Close() error
}

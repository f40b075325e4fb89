// Package batch implements the journal's Batcher: an in-memory queue that
// coalesces submitted entries into bounded batches by count and/or age and
// invokes a flush callback.
//
// The latency goroutine is stopped deterministically via a close channel
// (spec.md §9 calls this out as the substitution to make in place of a
// GC-assisted weak back-reference).
package batch

import (
	"sync"
	"time"
)

// OnFlush is invoked serially (never concurrently) with a non-empty
// ordered slice of entries.
type OnFlush func(batch []any)

// Config controls Batcher construction. At least one of MaxSize or
// MaxLatency must be set.
type Config struct {
	MaxSize    int
	MaxLatency time.Duration
	OnFlush    OnFlush
}

// Batcher coalesces Submit calls into batches and flushes them serially.
type Batcher struct {
	maxSize    int
	maxLatency time.Duration
	onFlush    OnFlush

	flushMu sync.Mutex // serializes onFlush across the size and latency paths

	mu        sync.Mutex
	buf       []any
	lastFlush time.Time

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs a Batcher and starts its background latency goroutine.
func New(cfg Config) *Batcher {
	if cfg.MaxSize <= 0 && cfg.MaxLatency <= 0 {
		panic("batch: at least one of MaxSize or MaxLatency is required")
	}
	if cfg.OnFlush == nil {
		panic("batch: OnFlush is required")
	}

	b := &Batcher{
		maxSize:    cfg.MaxSize,
		maxLatency: cfg.MaxLatency,
		onFlush:    cfg.OnFlush,
		lastFlush:  time.Now(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	if b.maxLatency > 0 {
		go b.latencyLoop()
	} else {
		close(b.doneCh)
	}

	return b
}

// Submit enqueues entry. When the buffer reaches MaxSize, Submit drains
// the buffer and flushes it before returning.
func (b *Batcher) Submit(entry any) {
	b.mu.Lock()
	b.buf = append(b.buf, entry)
	var toFlush []any
	if b.maxSize > 0 && len(b.buf) >= b.maxSize {
		toFlush = b.buf
		b.buf = nil
	}
	b.mu.Unlock()

	if toFlush != nil {
		b.flush(toFlush)
	}
}

// latencyLoop sleeps until the next latency deadline and flushes if no
// other flush has intervened since.
func (b *Batcher) latencyLoop() {
	defer close(b.doneCh)

	for {
		b.mu.Lock()
		deadline := b.lastFlush.Add(b.maxLatency)
		b.mu.Unlock()

		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-b.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		b.mu.Lock()
		// CAS on lastFlush: a concurrent size-triggered flush may have
		// pushed lastFlush forward since we computed deadline, in which
		// case we're not actually due yet.
		due := !time.Now().Before(b.lastFlush.Add(b.maxLatency))
		var toFlush []any
		if due {
			toFlush = b.buf
			b.buf = nil
			b.lastFlush = time.Now()
		}
		b.mu.Unlock()

		if len(toFlush) > 0 {
			b.invokeFlush(toFlush)
		}
		// The time path may observe an empty buffer; that's a no-op, not
		// an error.
	}
}

// flush drains under the buffer lock's result and invokes onFlush,
// recording the flush time for the latency loop's CAS.
func (b *Batcher) flush(toFlush []any) {
	b.mu.Lock()
	b.lastFlush = time.Now()
	b.mu.Unlock()

	b.invokeFlush(toFlush)
}

// invokeFlush serializes onFlush across both the size and latency paths.
func (b *Batcher) invokeFlush(toFlush []any) {
	if len(toFlush) == 0 {
		return
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	b.onFlush(toFlush)
}

// Close performs one final flush and stops the background latency
// goroutine.
func (b *Batcher) Close() {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh

		b.mu.Lock()
		toFlush := b.buf
		b.buf = nil
		b.mu.Unlock()

		b.invokeFlush(toFlush)
	})
}

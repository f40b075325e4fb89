// Package coordinator implements the journal's UploadCoordinator: the
// single-writer-per-topic actor that drains a DurableActionQueue and
// turns Start/Conj/Upload/End/Flush/Skip actions into ObjectStoreAdapter
// calls.
//
// At startup it scans the object store for abandoned multipart uploads
// and re-enqueues them, then runs one long-lived goroutine per topic
// for the remainder of the process lifetime.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/factual/s3journal/internal/logger"
	"github.com/factual/s3journal/internal/objectstore"
	"github.com/factual/s3journal/internal/queue"
)

// TopicFunc maps a FileKey to the durable queue topic that carries its
// actions. The journal façade and the coordinator must agree on this
// mapping; the façade owns it and supplies the same function here.
type TopicFunc func(objectstore.FileKey) string

// Config controls Coordinator construction.
type Config struct {
	Store           objectstore.Store
	Queue           queue.DurableActionQueue
	FileID          string
	MaxPartsPerFile uint64
	Topic           TopicFunc

	// PollTimeout bounds each Take call. On ErrNoTask the dispatch loop
	// calls Take again, except once Close has set the close latch: then
	// an empty Take ends the topic's loop, so this also bounds how long a
	// drained topic takes to exit after Close.
	PollTimeout time.Duration

	// CloseTimeout bounds how long Close waits for in-flight actions to
	// finish before abandoning the wait, per spec.md §4.6's 5s
	// close-latch.
	CloseTimeout time.Duration
}

// Coordinator drains one or more topics, each single-writer owned by its
// own goroutine.
type Coordinator struct {
	store           objectstore.Store
	q               queue.DurableActionQueue
	fileID          string
	maxPartsPerFile uint64
	topicFunc       TopicFunc
	pollTimeout     time.Duration
	closeTimeout    time.Duration

	mu       sync.Mutex
	states   map[string]*uploadState // topic -> state
	started  map[string]bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
	closing  atomic.Bool
}

// New constructs a Coordinator. Call Start to begin dispatching, and
// EnsureTopic for every topic the journal façade produces actions on.
func New(cfg Config) *Coordinator {
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 2 * time.Second
	}
	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 5 * time.Second
	}

	return &Coordinator{
		store:           cfg.Store,
		q:               cfg.Queue,
		fileID:          cfg.FileID,
		maxPartsPerFile: cfg.MaxPartsPerFile,
		topicFunc:       cfg.Topic,
		pollTimeout:     pollTimeout,
		closeTimeout:    closeTimeout,
		states:          make(map[string]*uploadState),
		started:         make(map[string]bool),
	}
}

// fileKeyFor derives the FileKey a given action's position belongs to.
func (c *Coordinator) fileKeyFor(pos queue.Position) objectstore.FileKey {
	return objectstore.FileKey{
		Directory:  pos.Directory,
		FileID:     c.fileID,
		FileNumber: pos.PartIndex / c.maxPartsPerFile,
	}
}

// EnsureTopic starts the dispatch goroutine for topic if it is not
// already running. Idempotent: safe to call once per Submit.
func (c *Coordinator) EnsureTopic(ctx context.Context, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started[topic] {
		return
	}
	c.started[topic] = true

	c.wg.Add(1)
	go c.runTopic(ctx, topic)
}

// Recover scans directories for multipart uploads abandoned by a prior
// crash and enqueues an End action for each, so the ordinary dispatch
// loop finalizes them using the parts S3 already has on record.
func (c *Coordinator) Recover(ctx context.Context, directories []string) error {
	for _, dir := range directories {
		descs, err := c.store.ListMultipart(ctx, dir)
		if err != nil {
			return fmt.Errorf("coordinator: recover: list multipart for %q: %w", dir, err)
		}

		for _, desc := range descs {
			pos := queue.Position{Directory: dir, PartIndex: desc.Key.FileNumber * c.maxPartsPerFile}
			topic := c.topicFunc(desc.Key)

			if err := c.q.Put(topic, queue.End(pos)); err != nil {
				return fmt.Errorf("coordinator: recover: enqueue end for %q: %w", desc.Key.Object(), err)
			}
			logger.Info("coordinator: recovered abandoned multipart upload", "object", desc.Key.Object(), "upload_id", desc.UploadID)
		}
	}
	return nil
}

// runTopic is the single-writer dispatch loop for one topic.
func (c *Coordinator) runTopic(ctx context.Context, topic string) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := c.q.Take(ctx, topic, c.pollTimeout)
		if err != nil {
			if err == queue.ErrNoTask {
				// An exhausted take during an ordinary run just means
				// nothing is pending yet; during the close latch it
				// means the topic has genuinely drained, so the loop
				// can terminate (spec.md §4.6's close-latch rule).
				if c.closing.Load() {
					return
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("coordinator: take failed", "topic", topic, "error", err)
			continue
		}

		deferComplete, err := c.dispatch(ctx, topic, task)
		if err != nil {
			logger.Warn("coordinator: action failed, retrying", "topic", topic, "error", err)
			if retryErr := c.q.Retry(task); retryErr != nil {
				logger.Error("coordinator: retry failed", "topic", topic, "error", retryErr)
			}
			continue
		}

		if !deferComplete {
			if err := c.q.Complete(task); err != nil {
				logger.Error("coordinator: complete failed", "topic", topic, "error", err)
			}
		}
	}
}

// dispatch runs the action task carries and reports whether task's
// completion should be deferred: a Conj's bytes only live in the
// in-memory buffer until the part they belong to actually uploads, so
// its task is held open in the durable queue (not Completed) until
// then — see uploadState.pendingTasks.
func (c *Coordinator) dispatch(ctx context.Context, topic string, task *queue.Task) (deferComplete bool, err error) {
	action, err := task.Deref()
	if err != nil {
		// A corrupt handle can never be retried into correctness; drop
		// it rather than spinning forever.
		logger.Warn("coordinator: dropping corrupt task", "topic", topic, "error", err)
		return false, nil
	}

	switch action.Kind {
	case queue.KindStart:
		return false, c.handleStart(ctx, topic, action)
	case queue.KindConj:
		return true, c.handleConj(ctx, topic, task, action)
	case queue.KindUpload:
		return false, c.handleUpload(ctx, topic, action)
	case queue.KindEnd:
		return false, c.handleEnd(ctx, topic, action)
	case queue.KindFlush:
		return false, c.handleFlush(topic)
	case queue.KindSkip:
		return false, nil
	default:
		return false, fmt.Errorf("coordinator: unknown action kind %v", action.Kind)
	}
}

// stateFor returns the in-memory state for topic, lazily reconciling
// against the object store if this process has never seen the topic
// before (e.g. after a restart where Start was already durably
// processed pre-crash).
func (c *Coordinator) stateFor(ctx context.Context, topic string, key objectstore.FileKey) (*uploadState, error) {
	c.mu.Lock()
	st, ok := c.states[topic]
	c.mu.Unlock()
	if ok {
		return st, nil
	}

	descs, err := c.store.ListMultipart(ctx, key.Directory)
	if err != nil {
		return nil, fmt.Errorf("coordinator: reconcile: list multipart: %w", err)
	}

	st = &uploadState{key: key}
	for _, d := range descs {
		if d.Key.FileNumber != key.FileNumber {
			continue
		}
		desc := d
		parts, err := c.store.ListParts(ctx, desc)
		if err != nil {
			return nil, fmt.Errorf("coordinator: reconcile: list parts: %w", err)
		}
		st.desc = &desc
		st.parts = parts
		break
	}

	c.mu.Lock()
	c.states[topic] = st
	c.mu.Unlock()

	return st, nil
}

func (c *Coordinator) handleStart(ctx context.Context, topic string, action queue.Action) error {
	key := c.fileKeyFor(action.Position)
	st, err := c.stateFor(ctx, topic, key)
	if err != nil {
		return err
	}
	if st.desc != nil {
		// Already started — Start is idempotent on replay.
		return nil
	}

	desc, err := c.store.InitMultipart(ctx, key)
	if err != nil {
		return fmt.Errorf("coordinator: init multipart: %w", err)
	}
	st.desc = &desc
	return nil
}

func (c *Coordinator) handleConj(ctx context.Context, topic string, task *queue.Task, action queue.Action) error {
	key := c.fileKeyFor(action.Position)
	st, err := c.stateFor(ctx, topic, key)
	if err != nil {
		return err
	}
	st.buffer = append(st.buffer, action.Bytes...)
	st.addPending(task)
	return nil
}

func (c *Coordinator) handleUpload(ctx context.Context, topic string, action queue.Action) error {
	key := c.fileKeyFor(action.Position)
	st, err := c.stateFor(ctx, topic, key)
	if err != nil {
		return err
	}
	return c.uploadBuffered(ctx, st, false)
}

// handleFlush implements spec.md §4.6's Flush action: enqueue an End for
// every currently known (live) upload on this topic. It does not finalize
// anything itself — the ordinary dispatch of that End does, via
// handleEnd.
func (c *Coordinator) handleFlush(topic string) error {
	c.mu.Lock()
	st := c.states[topic]
	c.mu.Unlock()
	if st == nil || st.desc == nil {
		return nil
	}

	pos := queue.Position{Directory: st.key.Directory, PartIndex: st.key.FileNumber * c.maxPartsPerFile}
	if err := c.q.Put(topic, queue.End(pos)); err != nil {
		return fmt.Errorf("coordinator: flush: enqueue end: %w", err)
	}
	return nil
}

func (c *Coordinator) handleEnd(ctx context.Context, topic string, action queue.Action) error {
	key := c.fileKeyFor(action.Position)
	st, err := c.stateFor(ctx, topic, key)
	if err != nil {
		return err
	}
	if st.desc == nil {
		// Nothing was ever started for this file; nothing to end.
		return nil
	}

	if len(st.buffer) > 0 {
		if err := c.uploadBuffered(ctx, st, true); err != nil {
			return err
		}
	}

	if err := c.store.CompleteMultipart(ctx, *st.desc, st.parts); err != nil {
		return fmt.Errorf("coordinator: complete multipart: %w", err)
	}

	c.mu.Lock()
	delete(c.states, topic)
	c.mu.Unlock()

	return nil
}

func (c *Coordinator) uploadBuffered(ctx context.Context, st *uploadState, last bool) error {
	if st.desc == nil {
		return fmt.Errorf("coordinator: upload requested before start for %q", st.key.Object())
	}
	if len(st.buffer) == 0 {
		if last {
			return nil
		}
		return fmt.Errorf("coordinator: upload requested with empty buffer for %q", st.key.Object())
	}

	part, err := c.store.UploadPart(ctx, *st.desc, st.nextPartNumber(), st.buffer, last)
	if err != nil {
		return fmt.Errorf("coordinator: upload part: %w", err)
	}

	st.recordPart(part)
	st.buffer = nil

	// The part is now durable in S3; every Conj task that contributed
	// to it can finally be marked complete in the durable queue.
	for _, t := range st.takePending() {
		if err := c.q.Complete(t); err != nil {
			logger.Error("coordinator: complete pending conj task failed", "error", err)
		}
	}

	return nil
}

// Close sets the close latch: every topic's dispatch loop keeps draining
// whatever is still pending (including a Flush's resulting End) and
// terminates on its own once Take is exhausted, rather than being cut off
// mid-upload. If topics have not drained naturally within CloseTimeout,
// the remaining goroutines are cancelled outright so Close always
// returns.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() {
		c.closing.Store(true)
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.closeTimeout):
		logger.Warn("coordinator: close timed out waiting for topics to drain")
		if c.cancel != nil {
			c.cancel()
		}
	}
}

// Start wires ctx cancellation into the coordinator's lifetime; call
// once before EnsureTopic.
func (c *Coordinator) Start(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return ctx
}

// Package s3journal implements a durable, crash-safe append-only journal
// backed by S3 multipart uploads: entries are submitted, batched,
// encoded, and streamed into time- and size-partitioned objects via a
// local write-ahead action queue and a single-writer upload coordinator.
package s3journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/factual/s3journal/internal/batch"
	"github.com/factual/s3journal/internal/codec"
	"github.com/factual/s3journal/internal/coordinator"
	"github.com/factual/s3journal/internal/logger"
	"github.com/factual/s3journal/internal/metrics"
	"github.com/factual/s3journal/internal/objectstore"
	"github.com/factual/s3journal/internal/position"
	"github.com/factual/s3journal/internal/queue"
)

// ErrClosedJournal is returned by Submit once the journal has been (or is
// being) closed, per spec.md §7's fail-fast rule.
var ErrClosedJournal = errors.New("s3journal: journal is closed")

// Config constructs a single Journal instance. A deployment typically
// wraps several of these behind a Sharder (sharder.go).
type Config struct {
	Store objectstore.Store

	// ID identifies this journal instance in object keys and durable
	// queue topics — e.g. a shard symbol when sharded.
	ID string

	// LocalDirectory is where the durable action queue's log files live.
	LocalDirectory string
	FsyncPerPut    bool

	Encode     codec.Encode
	Compressor codec.Compressor
	Delimiter  byte

	MaxBatchSize    int
	MaxBatchLatency time.Duration

	MinPartSize     uint64
	MaxPartsPerFile uint64

	// DirectoryFormat renders the current time into a directory prefix,
	// e.g. time.Now().UTC().Format("2006/01/02"). Defaults to exactly
	// that layout if nil.
	DirectoryFormat position.DirectoryFormatter

	Metrics *metrics.Recorder
}

// Journal is the façade spec.md §4.7 describes: Submit entries, read
// Stats, Close gracefully.
type Journal struct {
	cfg        Config
	pipeline   codec.Pipeline
	batcher    *batch.Batcher
	q          queue.DurableActionQueue
	coord      *coordinator.Coordinator
	store      objectstore.Store
	dirFormat  position.DirectoryFormatter
	metrics    *metrics.Recorder

	mu  sync.Mutex
	pos position.Position

	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
}

// New constructs a Journal, recovering its durable queue and position
// from disk/S3 state before returning.
func New(cfg Config) (*Journal, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("s3journal: Config.ID is required")
	}
	if cfg.MinPartSize == 0 {
		cfg.MinPartSize = 5 * 1024 * 1024
	}
	if cfg.MaxPartsPerFile == 0 {
		cfg.MaxPartsPerFile = 500
	}
	dirFormat := cfg.DirectoryFormat
	if dirFormat == nil {
		dirFormat = func(now time.Time) string { return now.UTC().Format("2006/01/02") }
	}

	q, err := queue.NewLocalQueue(queue.Config{Dir: cfg.LocalDirectory, FsyncPerPut: cfg.FsyncPerPut})
	if err != nil {
		return nil, fmt.Errorf("s3journal: open durable queue: %w", err)
	}

	coord := coordinator.New(coordinator.Config{
		Store:           cfg.Store,
		Queue:           q,
		FileID:          cfg.ID,
		MaxPartsPerFile: cfg.MaxPartsPerFile,
		Topic:           topicForKey,
	})

	j := &Journal{
		cfg:       cfg,
		pipeline:  codec.NewPipeline(cfg.Encode, cfg.Delimiter, cfg.Compressor),
		q:         q,
		coord:     coord,
		store:     cfg.Store,
		dirFormat: dirFormat,
		metrics:   cfg.Metrics,
	}

	ctx := coord.Start(context.Background())
	j.ctx, j.cancel = ctx, func() {}

	if err := j.initPosition(ctx); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("s3journal: initialize position: %w", err)
	}

	startTopic := j.currentTopic()
	coord.EnsureTopic(ctx, startTopic)

	j.mu.Lock()
	startPos := j.pos
	j.mu.Unlock()
	if err := q.Put(startTopic, queue.Start(startPos.ToQueue())); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("s3journal: put initial start action: %w", err)
	}

	j.batcher = batch.New(batch.Config{
		MaxSize:    cfg.MaxBatchSize,
		MaxLatency: cfg.MaxBatchLatency,
		OnFlush:    j.onFlush,
	})

	return j, nil
}

// topicForKey maps a FileKey to the durable queue topic that carries its
// actions — every file number within one (directory, id) pair is
// processed sequentially by the same single-writer topic.
func topicForKey(key objectstore.FileKey) string {
	return key.FileID + "/" + key.Directory
}

func (j *Journal) currentTopic() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return topicForKey(j.fileKeyLocked(j.pos))
}

func (j *Journal) fileKeyLocked(pos position.Position) objectstore.FileKey {
	return objectstore.FileKey{
		Directory:  pos.Directory,
		FileID:     j.cfg.ID,
		FileNumber: pos.FileNumber(j.cfg.MaxPartsPerFile),
	}
}

// initPosition determines the starting position per spec.md §4.7: the
// current file count is the max of (a) the number of distinct file
// numbers already visible in the object store (complete ∪ in-progress)
// and (b) a lower bound derived from whatever the durable queue still
// has pending from a prior run.
func (j *Journal) initPosition(ctx context.Context) error {
	directory := j.dirFormat(time.Now())

	completeKeys, err := j.store.ListComplete(ctx, directory)
	if err != nil {
		return fmt.Errorf("list complete: %w", err)
	}
	multipartDescs, err := j.store.ListMultipart(ctx, directory)
	if err != nil {
		return fmt.Errorf("list multipart: %w", err)
	}

	distinct := make(map[uint64]struct{})
	for _, k := range completeKeys {
		distinct[k.FileNumber] = struct{}{}
	}
	for _, d := range multipartDescs {
		distinct[d.Key.FileNumber] = struct{}{}
	}
	fromStore := uint64(len(distinct))

	topic := topicForKey(objectstore.FileKey{Directory: directory, FileID: j.cfg.ID})
	tasks, err := j.q.ImmediateSnapshot(topic)
	if err != nil {
		return fmt.Errorf("snapshot queue: %w", err)
	}

	var fromQueue uint64
	for _, t := range tasks {
		action, derefErr := t.Deref()
		if derefErr != nil {
			continue
		}
		if n := action.Position.PartIndex/j.cfg.MaxPartsPerFile + 1; n > fromQueue {
			fromQueue = n
		}
	}

	fileCount := fromStore
	if fromQueue > fileCount {
		fileCount = fromQueue
	}

	j.mu.Lock()
	j.pos = position.Position{RunningBytes: 0, PartIndex: fileCount * j.cfg.MaxPartsPerFile, Directory: directory}
	j.mu.Unlock()

	return nil
}

// Submit enqueues entry for batching, encoding, and eventual durable
// upload. It fails fast with ErrClosedJournal once Close has been called.
func (j *Journal) Submit(entry any) error {
	if j.closed.Load() {
		return ErrClosedJournal
	}
	if j.metrics != nil {
		j.metrics.IncSubmits()
	}
	j.batcher.Submit(entry)
	return nil
}

// onFlush is the Batcher's callback: it runs the encoder pipeline over
// the flushed batch and advances the position state machine, enqueuing
// the resulting actions in the exact order spec.md §4.7 requires — any
// End first (old file's topic), then Start (new file's topic) if
// present, then the Conj carrying this chunk's bytes, then any
// remaining actions (Upload).
func (j *Journal) onFlush(entries []any) {
	chunk, err := j.pipeline.Run(entries)
	if err != nil {
		logger.Error("s3journal: encode pipeline failed, dropping batch", "error", err, "entries", len(entries))
		return
	}

	j.mu.Lock()
	current := j.pos
	next, actions := position.Advance(current, j.dirFormat, uint64(len(chunk.Bytes)), time.Now(), j.cfg.MinPartSize, j.cfg.MaxPartsPerFile)
	j.pos = next
	j.mu.Unlock()

	oldTopic := topicForKey(j.fileKeyLocked(current))
	newTopic := topicForKey(j.fileKeyLocked(next))

	for _, a := range actions {
		if a.Kind == queue.KindEnd {
			if err := j.q.Put(oldTopic, a); err != nil {
				logger.Error("s3journal: put end action failed", "error", err)
			}
		}
	}

	startedNewFile := false
	for _, a := range actions {
		if a.Kind == queue.KindStart {
			if err := j.q.Put(newTopic, a); err != nil {
				logger.Error("s3journal: put start action failed", "error", err)
			}
			startedNewFile = true
		}
	}
	if startedNewFile {
		j.coord.EnsureTopic(j.ctx, newTopic)
	}

	if err := j.q.Put(newTopic, queue.Conj(next.ToQueue(), uint64(len(entries)), chunk.Bytes)); err != nil {
		logger.Error("s3journal: put conj action failed", "error", err)
	}

	for _, a := range actions {
		if a.Kind != queue.KindEnd && a.Kind != queue.KindStart {
			if err := j.q.Put(newTopic, a); err != nil {
				logger.Error("s3journal: put action failed", "kind", a.Kind, "error", err)
			}
		}
	}
}

// Stats is a point-in-time snapshot of the journal's durable queue
// counters, per spec.md §6.
type Stats struct {
	queue.Stats
}

// Stats returns the current durable queue counters for this journal's
// active topic.
func (j *Journal) Stats() Stats {
	return Stats{Stats: j.q.Stats(j.currentTopic())}
}

// Close implements spec.md §4.7's shutdown sequence: flush any buffered
// entries, enqueue a Flush (which finalizes every still-open file), set
// the close latch, wait for the upload coordinator to drain, then release
// the durable queue.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		j.batcher.Close()

		topic := j.currentTopic()
		if putErr := j.q.Put(topic, queue.Flush()); putErr != nil {
			logger.Error("s3journal: put flush action failed", "error", putErr)
		}

		j.closed.Store(true)

		j.coord.Close()
		err = j.q.Close()
	})
	return err
}

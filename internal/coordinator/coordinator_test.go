package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factual/s3journal/internal/objectstore"
	"github.com/factual/s3journal/internal/queue"
)

func newTestQueue(t *testing.T) queue.DurableActionQueue {
	t.Helper()
	q, err := queue.NewLocalQueue(queue.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func topicFunc(key objectstore.FileKey) string {
	return key.Directory + "/" + key.FileID
}

func TestCoordinator_StartConjUploadEnd_CompletesObject(t *testing.T) {
	store := objectstore.NewFakeStore(8)
	q := newTestQueue(t)

	c := New(Config{
		Store:           store,
		Queue:           q,
		FileID:          "shard0",
		MaxPartsPerFile: 500,
		Topic:           topicFunc,
		PollTimeout:     50 * time.Millisecond,
	})

	ctx := c.Start(context.Background())
	topic := "2026/07/29/shard0"
	c.EnsureTopic(ctx, topic)

	pos := queue.Position{Directory: "2026/07/29", PartIndex: 0}
	require.NoError(t, q.Put(topic, queue.Start(pos)))
	require.NoError(t, q.Put(topic, queue.Conj(pos, 3, []byte("hello world"))))
	require.NoError(t, q.Put(topic, queue.End(pos)))

	require.Eventually(t, func() bool {
		keys, err := store.ListComplete(context.Background(), "2026/07/29")
		return err == nil && len(keys) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Close()
}

func TestCoordinator_UploadThenEnd_ProducesTwoParts(t *testing.T) {
	store := objectstore.NewFakeStore(4)
	q := newTestQueue(t)

	c := New(Config{
		Store:           store,
		Queue:           q,
		FileID:          "s0",
		MaxPartsPerFile: 500,
		Topic:           topicFunc,
		PollTimeout:     50 * time.Millisecond,
	})
	ctx := c.Start(context.Background())
	topic := "d/s0"
	c.EnsureTopic(ctx, topic)

	pos := queue.Position{Directory: "d", PartIndex: 0}
	require.NoError(t, q.Put(topic, queue.Start(pos)))
	require.NoError(t, q.Put(topic, queue.Conj(pos, 1, []byte("abcdefgh"))))
	require.NoError(t, q.Put(topic, queue.Upload(pos)))
	require.NoError(t, q.Put(topic, queue.Conj(pos, 1, []byte("ijkl"))))
	require.NoError(t, q.Put(topic, queue.End(pos)))

	require.Eventually(t, func() bool {
		keys, err := store.ListComplete(context.Background(), "d")
		return err == nil && len(keys) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Close()
}

func TestCoordinator_Recover_EnqueuesEndForAbandonedUpload(t *testing.T) {
	store := objectstore.NewFakeStore(4)
	q := newTestQueue(t)

	key := objectstore.FileKey{Directory: "d", FileID: "s0", FileNumber: 0}
	desc, err := store.InitMultipart(context.Background(), key)
	require.NoError(t, err)
	_, err = store.UploadPart(context.Background(), desc, 1, []byte("leftover"), true)
	require.NoError(t, err)

	c := New(Config{
		Store:           store,
		Queue:           q,
		FileID:          "s0",
		MaxPartsPerFile: 500,
		Topic:           topicFunc,
		PollTimeout:     50 * time.Millisecond,
	})

	require.NoError(t, c.Recover(context.Background(), []string{"d"}))

	ctx := c.Start(context.Background())
	c.EnsureTopic(ctx, "d/s0")

	require.Eventually(t, func() bool {
		keys, err := store.ListComplete(context.Background(), "d")
		return err == nil && len(keys) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Close()
}

func TestCoordinator_ConjStaysInProgressUntilItsPartUploads(t *testing.T) {
	store := objectstore.NewFakeStore(4)
	q := newTestQueue(t)

	c := New(Config{
		Store:           store,
		Queue:           q,
		FileID:          "s0",
		MaxPartsPerFile: 500,
		Topic:           topicFunc,
		PollTimeout:     50 * time.Millisecond,
	})
	ctx := c.Start(context.Background())
	topic := "d/s0"
	c.EnsureTopic(ctx, topic)

	pos := queue.Position{Directory: "d", PartIndex: 0}
	require.NoError(t, q.Put(topic, queue.Start(pos)))
	require.NoError(t, q.Put(topic, queue.Conj(pos, 1, []byte("abcdefgh"))))

	// With only Start and Conj enqueued, Conj's bytes are buffered
	// in-memory but not yet uploaded — its task must remain in-progress
	// (durably un-Completed) rather than being dropped from the queue.
	require.Eventually(t, func() bool {
		s := q.Stats(topic)
		return s.Completed == 1 && s.InProgress == 1
	}, 2*time.Second, 10*time.Millisecond, "Conj task should stay in-progress until its part uploads")

	require.NoError(t, q.Put(topic, queue.End(pos)))

	require.Eventually(t, func() bool {
		keys, err := store.ListComplete(context.Background(), "d")
		return err == nil && len(keys) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, q.Stats(topic).InProgress)
	c.Close()
}

func TestCoordinator_StartIsIdempotentOnReplay(t *testing.T) {
	store := objectstore.NewFakeStore(8)
	q := newTestQueue(t)

	c := New(Config{
		Store:           store,
		Queue:           q,
		FileID:          "s0",
		MaxPartsPerFile: 500,
		Topic:           topicFunc,
		PollTimeout:     50 * time.Millisecond,
	})
	ctx := c.Start(context.Background())
	topic := "d/s0"
	c.EnsureTopic(ctx, topic)

	pos := queue.Position{Directory: "d", PartIndex: 0}
	require.NoError(t, q.Put(topic, queue.Start(pos)))
	require.NoError(t, q.Put(topic, queue.Start(pos)))
	require.NoError(t, q.Put(topic, queue.Conj(pos, 1, []byte("some bytes"))))
	require.NoError(t, q.Put(topic, queue.End(pos)))

	require.Eventually(t, func() bool {
		keys, err := store.ListComplete(context.Background(), "d")
		return err == nil && len(keys) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Close()
	assert.Empty(t, q.Stats(topic).InProgress)
}

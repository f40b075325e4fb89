package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcher_FlushesAtMaxSize(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]any

	b := New(Config{
		MaxSize: 3,
		OnFlush: func(batch []any) {
			mu.Lock()
			defer mu.Unlock()
			flushes = append(flushes, batch)
		},
	})
	defer b.Close()

	b.Submit(1)
	b.Submit(2)
	mu.Lock()
	assert.Empty(t, flushes)
	mu.Unlock()

	b.Submit(3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushes, 1)
	assert.Equal(t, []any{1, 2, 3}, flushes[0])
}

func TestBatcher_FlushesOnLatency(t *testing.T) {
	flushed := make(chan []any, 4)

	b := New(Config{
		MaxLatency: 20 * time.Millisecond,
		OnFlush: func(batch []any) {
			flushed <- batch
		},
	})
	defer b.Close()

	b.Submit("a")

	select {
	case batch := <-flushed:
		assert.Equal(t, []any{"a"}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for latency-triggered flush")
	}
}

func TestBatcher_EmptyLatencyTickIsNoop(t *testing.T) {
	flushed := make(chan []any, 4)

	b := New(Config{
		MaxLatency: 10 * time.Millisecond,
		OnFlush: func(batch []any) {
			flushed <- batch
		},
	})
	defer b.Close()

	// No Submit calls; several latency ticks should pass with no flush.
	select {
	case batch := <-flushed:
		t.Fatalf("unexpected flush of empty buffer: %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBatcher_CloseFlushesRemainder(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]any

	b := New(Config{
		MaxSize: 100,
		OnFlush: func(batch []any) {
			mu.Lock()
			defer mu.Unlock()
			flushes = append(flushes, batch)
		},
	})

	b.Submit("x")
	b.Submit("y")
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushes, 1)
	assert.Equal(t, []any{"x", "y"}, flushes[0])
}

func TestBatcher_CloseIsIdempotent(t *testing.T) {
	calls := 0
	b := New(Config{
		MaxSize: 10,
		OnFlush: func(batch []any) {
			calls++
		},
	})

	b.Submit("only")
	b.Close()
	b.Close()

	assert.Equal(t, 1, calls)
}

func TestBatcher_FlushesAreSerialized(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxConcurrent := 0

	b := New(Config{
		MaxSize: 1,
		OnFlush: func(batch []any) {
			mu.Lock()
			inFlight++
			if inFlight > maxConcurrent {
				maxConcurrent = inFlight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
		},
	})
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Submit(n)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxConcurrent)
}

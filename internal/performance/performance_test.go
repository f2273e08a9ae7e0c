package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BenchmarkWorkerPool benchmarks the worker pool performance.
func BenchmarkWorkerPool(b *testing.B) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		_ = pool.Submit(ctx, wg.Done)
		wg.Wait()
	}
}

// BenchmarkBatchProcessor benchmarks batch processing.
func BenchmarkBatchProcessor(b *testing.B) {
	var processed int64

	processor := NewBatchProcessor(100, func(items []int) error {
		atomic.AddInt64(&processed, int64(len(items)))
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = processor.Add(i)
	}
	_ = processor.Flush()
}

func TestWorkerPoolRunsEveryTask(t *testing.T) {
	pool := NewWorkerPool(3)
	pool.Start()

	var done atomic.Int64
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.Submit(context.Background(), func() { done.Add(1) }))
	}
	pool.Stop()

	assert.Equal(t, int64(100), done.Load())
	stats := pool.Stats()
	assert.Equal(t, uint64(100), stats.TasksTotal)
	assert.Equal(t, uint64(100), stats.TasksDone)
	assert.False(t, stats.Running)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	defer pool.Stop()

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(context.Background(), func() {
			defer wg.Done()
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Stop()
	assert.ErrorIs(t, pool.Submit(context.Background(), func() {}), ErrPoolStopped)
}

func TestSubmitHonoursContext(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)
	// Occupy the worker and fill the queue.
	require.NoError(t, pool.Submit(context.Background(), func() { <-block }))
	for i := 0; i < cap(pool.queue); i++ {
		require.NoError(t, pool.Submit(context.Background(), func() {}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Submit(ctx, func() {}), context.DeadlineExceeded)
}

func TestBatchProcessorFlushes(t *testing.T) {
	var batches [][]int
	bp := NewBatchProcessor(3, func(items []int) error {
		batches = append(batches, items)
		return nil
	})
	for i := 1; i <= 7; i++ {
		require.NoError(t, bp.Add(i))
	}
	require.NoError(t, bp.Flush())
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, batches)
}

func TestBatchProcessorSinkError(t *testing.T) {
	calls := 0
	bp := NewBatchProcessor(2, func(items []string) error {
		calls++
		return assert.AnError
	})
	require.NoError(t, bp.Add("a"))
	assert.ErrorIs(t, bp.Add("b"), assert.AnError)
	assert.NoError(t, bp.Flush())
	assert.Equal(t, 1, calls)
}

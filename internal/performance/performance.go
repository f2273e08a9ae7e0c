// Package performance provides the bounded worker pool that backtest batches
// run on and a generic batcher for bulk store writes.
package performance

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolStopped is returned by Submit once the pool has been stopped.
var ErrPoolStopped = errors.New("worker pool is not running")

// WorkerPool runs submitted tasks on a fixed set of goroutines. The queue
// holds a few tasks per worker so Submit applies backpressure.
type WorkerPool struct {
	size  int
	queue chan func()
	wg    sync.WaitGroup

	// mu orders Submit against the close in Stop.
	mu      sync.RWMutex
	running atomic.Bool

	submitted atomic.Uint64
	completed atomic.Uint64
}

// NewWorkerPool sizes the pool; zero or less means one worker per CPU.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{size: workers, queue: make(chan func(), workers*4)}
}

// Workers returns the pool size.
func (p *WorkerPool) Workers() int { return p.size }

// Start launches the workers. Calling it twice is a no-op.
func (p *WorkerPool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.wg.Add(p.size)
	for range p.size {
		go func() {
			defer p.wg.Done()
			for task := range p.queue {
				task()
				p.completed.Add(1)
			}
		}()
	}
}

// Submit queues a task, blocking while the queue is full. It fails when the
// pool is stopped or ctx is done first.
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue and waits until every accepted task has run.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	wasRunning := p.running.Swap(false)
	if wasRunning {
		close(p.queue)
	}
	p.mu.Unlock()
	if wasRunning {
		p.wg.Wait()
	}
}

// PoolStats is a point-in-time view of a WorkerPool.
type PoolStats struct {
	Workers    int
	Running    bool
	TasksTotal uint64
	TasksDone  uint64
	QueueLen   int
}

// Stats reports task counters and the current queue depth.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:    p.size,
		Running:    p.running.Load(),
		TasksTotal: p.submitted.Load(),
		TasksDone:  p.completed.Load(),
		QueueLen:   len(p.queue),
	}
}

// BatchProcessor buffers items and hands them to a sink in fixed-size
// chunks. The sink receives its own copy of each chunk.
type BatchProcessor[T any] struct {
	size int
	sink func([]T) error

	mu      sync.Mutex
	pending []T
}

// NewBatchProcessor returns a batcher that calls sink every size items.
func NewBatchProcessor[T any](size int, sink func([]T) error) *BatchProcessor[T] {
	size = max(size, 1)
	return &BatchProcessor[T]{size: size, sink: sink, pending: make([]T, 0, size)}
}

// Add buffers item and writes a full chunk through to the sink.
func (b *BatchProcessor[T]) Add(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, item)
	if len(b.pending) < b.size {
		return nil
	}
	return b.drain()
}

// Flush writes whatever is still buffered.
func (b *BatchProcessor[T]) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drain()
}

func (b *BatchProcessor[T]) drain() error {
	if len(b.pending) == 0 {
		return nil
	}
	chunk := append([]T(nil), b.pending...)
	b.pending = b.pending[:0]
	return b.sink(chunk)
}

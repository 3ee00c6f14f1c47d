package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when a run is submitted after Shutdown.
var ErrPoolClosed = errors.New("job pool is shut down")

// PoolStats is a snapshot of the pool's run counters.
type PoolStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Pool bounds how many pipeline runs execute concurrently. Submit blocks
// when the pool is at capacity, so callers get backpressure instead of
// unbounded goroutine growth.
type Pool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	stats  PoolStats
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewPool creates a pool allowing size concurrent runs.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		slots: make(chan struct{}, size),
		done:  make(chan struct{}),
	}
}

// Submit enqueues a run. It blocks while the pool is full, honouring
// context cancellation and shutdown while waiting.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}

	// Re-check after acquiring the slot in case Shutdown raced; wg.Add
	// must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolClosed
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.stats.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			atomic.AddInt64(&p.stats.Active, -1)
			<-p.slots
			p.wg.Done()
		}()
		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.stats.Failed, 1)
			return
		}
		atomic.AddInt64(&p.stats.Completed, 1)
	}()

	return nil
}

// Wait blocks until all submitted runs finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting runs and waits for active ones to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns the current run counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Active:    atomic.LoadInt64(&p.stats.Active),
		Completed: atomic.LoadInt64(&p.stats.Completed),
		Failed:    atomic.LoadInt64(&p.stats.Failed),
	}
}

package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	p := NewPool(2)

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		err := p.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	p.Wait()

	assert.Equal(t, int64(5), ran.Load())
	stats := p.Stats()
	assert.Equal(t, int64(5), stats.Completed)
	assert.Equal(t, int64(0), stats.Active)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)

	var current, peak atomic.Int64
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		err := p.Submit(context.Background(), func(context.Context) error {
			n := current.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	p.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestPoolCountsFailures(t *testing.T) {
	p := NewPool(1)

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		return nil
	}))
	p.Wait()

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	p := NewPool(1)
	p.Shutdown()

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Shutdown twice is a no-op.
	p.Shutdown()
}

func TestPoolSubmitHonoursContext(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Wait()
}

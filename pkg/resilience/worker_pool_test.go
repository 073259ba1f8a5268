package resilience

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolExecutesJobs(t *testing.T) {
	pool := NewWorkerPool(3, 10)
	defer pool.Close()

	var count int32
	for i := 0; i < 10; i++ {
		if err := pool.TrySubmit(func() {
			atomic.AddInt32(&count, 1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	pool.Close()
	pool.Wait()

	if got := atomic.LoadInt32(&count); got != 10 {
		t.Fatalf("expected 10 jobs executed, got %d", got)
	}
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.Close()
	if err := pool.TrySubmit(func() {}); err != ErrWorkerPoolClosed {
		t.Fatalf("expected ErrWorkerPoolClosed, got %v", err)
	}
}

func TestWorkerPoolTrySubmitQueueFull(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, pool.TrySubmit(func() {
		close(started)
		<-release
	}))
	<-started

	// the single worker is busy, so one job fits in the queue and the next does not
	require.NoError(t, pool.TrySubmit(func() {}))
	assert.ErrorIs(t, pool.TrySubmit(func() {}), ErrQueueFull)

	close(release)
	pool.Close()
	pool.Wait()
}

func TestWorkerPoolWaitDrainsQueuedJobs(t *testing.T) {
	pool := NewWorkerPool(1, 2)
	release := make(chan struct{})
	started := make(chan struct{})
	var finished int32

	require.NoError(t, pool.TrySubmit(func() {
		close(started)
		<-release
		atomic.AddInt32(&finished, 1)
	}))
	<-started
	require.NoError(t, pool.TrySubmit(func() { atomic.AddInt32(&finished, 1) }))

	pool.Close()
	waited := make(chan struct{})
	go func() {
		pool.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-waited
	assert.Equal(t, int32(2), atomic.LoadInt32(&finished))
}

package resilience

import (
	"errors"
	"sync"
)

var (
	ErrWorkerPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull        = errors.New("worker pool queue is full")
)

// WorkerPool runs submitted jobs on a fixed set of goroutines.
type WorkerPool struct {
	jobs   chan func()
	closed bool
	mu     sync.RWMutex
	once   sync.Once
	wg     sync.WaitGroup
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &WorkerPool{
		jobs: make(chan func(), queueSize),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				if job != nil {
					job()
				}
			}
		}()
	}

	return p
}

// TrySubmit queues job only if there is room right now.
func (p *WorkerPool) TrySubmit(job func()) error {
	if job == nil {
		return nil
	}

	// The read lock keeps Close from closing the channel under a pending send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs. Queued jobs still run.
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

// Wait blocks until every worker has exited, which happens after Close once
// the queue is drained.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

package consumer

import (
	"context"
	"sync"
)

// WorkerPool runs background tasks on a fixed set of workers with a bounded
// queue. It replaces fire-and-forget goroutines with an owner-controlled
// submit/drain contract: Shutdown finishes every accepted task before
// returning.
type WorkerPool struct {
	tasks chan func(context.Context)
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &WorkerPool{tasks: make(chan func(context.Context), queueSize)}
}

// Run starts the workers. Tasks receive ctx; a cancelled ctx stops new work
// inside tasks but the pool itself drains only on Shutdown.
func (p *WorkerPool) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task(ctx)
			}
		}()
	}
}

// Submit queues a task. Returns false when the pool is shut down or the queue
// is full; callers decide whether that is worth logging.
func (p *WorkerPool) Submit(task func(context.Context)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

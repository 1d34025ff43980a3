package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

// Pool runs post-commit work (transcription, follow-up generation, search
// indexing) off the request path. Tasks that are dropped or fail are picked
// up again by the recovery sweeps.
type Pool struct {
	taskQueue chan namedTask
	wg        sync.WaitGroup
	isClosing atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
	mu        sync.RWMutex
}

type namedTask struct {
	name string
	run  Task
}

func NewPool(size, queueSize int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		taskQueue: make(chan namedTask, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}

	for range size {
		p.wg.Add(1)
		go p.startWorker()
	}
	return p
}

func (p *Pool) startWorker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		if err := task.run(p.ctx); err != nil {
			p.logger.Warn("worker task failed", slog.String("task", task.name), slog.String("error", err.Error()))
		}
	}
}

// Submit queues t and reports whether it was accepted. A full queue or a pool
// that is shutting down drops the task.
func (p *Pool) Submit(name string, t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.isClosing.Load() {
		p.logger.Warn("task submitted during shutdown, dropping", slog.String("task", name))
		return false
	}
	select {
	case p.taskQueue <- namedTask{name: name, run: t}:
		return true
	default:
		p.logger.Warn("task queue full, dropping task", slog.String("task", name))
		return false
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ctx ends first, running tasks see their context cancelled.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.isClosing.Swap(true) {
		p.mu.Unlock()
		return
	}
	close(p.taskQueue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}

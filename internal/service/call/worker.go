package call

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"schoolportal-backend/pkg/logger"
)

// worker runs side effects (presence mirror, call log) off the request
// path, one at a time in submission order.
type worker struct {
	jobs chan func()
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newWorker(queueSize int) *worker {
	w := &worker{
		jobs: make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for job := range w.jobs {
		job()
	}
}

// submit queues job; it is dropped when the queue is full or closed
func (w *worker) submit(name string, job func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		logger.Warn("Side effect dropped after shutdown", zap.String("job", name))
		return
	}
	select {
	case w.jobs <- job:
	default:
		logger.Warn("Side effect queue full, dropping job", zap.String("job", name))
	}
}

// close stops accepting jobs and waits for queued ones to finish
func (w *worker) close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
)

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = errors.New("worker pool closed")

// SafeGo runs fn in a goroutine with panic recovery and a timeout. The
// context is detached from parent cancellation but keeps its values, so
// cleanup started at the end of a request still runs after the client
// has gone. Errors are logged, not returned.
//
//	SafeGo(r.Context(), 5*time.Second, "quota release", func(ctx context.Context) error {
//	    return reservation.Release(ctx)
//	})
func SafeGo(parent context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()

		logger := observability.FromContext(ctx).WithField("task", taskName)
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of goroutines fed by
// a bounded queue.
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	mu     sync.RWMutex
	closed bool
	workCh chan func(context.Context) error
	wg     sync.WaitGroup
}

// NewWorkerPool starts workers goroutines reading from a queue of the
// given size. Each task gets its own timeout.
func NewWorkerPool(workers, queue int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = observability.Discard()
	}

	p := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger.WithField("pool", taskName),
		workCh:   make(chan func(context.Context) error, queue),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit blocks until the task is queued, ctx is done or the pool closes
func (p *WorkerPool) Submit(ctx context.Context, fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues the task only if there is room. It reports whether the
// task was accepted.
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.workCh <- fn:
		return true
	default:
		return false
	}
}

// Close stops accepting tasks and waits up to timeout for queued tasks to
// drain. It is safe to call more than once.
func (p *WorkerPool) Close(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.workCh)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("worker pool shutdown timed out after " + timeout.String())
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for fn := range p.workCh {
		p.run(fn)
	}
}

func (p *WorkerPool) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer observability.RecoverPanic(p.logger, p.taskName)

	if err := fn(ctx); err != nil {
		p.logger.WithError(err).Warn("pool task failed")
	}
}

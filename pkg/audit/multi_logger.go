package audit

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/observability"
)

// MultiLogger fans each event out to every logger. A failing logger does
// not stop the others.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger writing to all of loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes event to every logger and joins their errors
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger and joins their errors
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncLogger hands events to a bounded worker pool so slow sinks stay
// off the request path. Events are dropped, with a warning, when the
// queue is full.
type AsyncLogger struct {
	next   Logger
	pool   *async.WorkerPool
	logger *observability.Logger
}

// NewAsyncLogger wraps next with workers goroutines and a queue of size queue
func NewAsyncLogger(next Logger, workers, queue int, logger *observability.Logger) *AsyncLogger {
	if logger == nil {
		logger = observability.Discard()
	}
	return &AsyncLogger{
		next:   next,
		pool:   async.NewWorkerPool(workers, queue, "audit", 5*time.Second, logger),
		logger: logger,
	}
}

// Log queues event. It never blocks and never returns an error.
func (a *AsyncLogger) Log(_ context.Context, event *AuditEvent) error {
	copied := *event
	accepted := a.pool.TrySubmit(func(ctx context.Context) error {
		return a.next.Log(ctx, &copied)
	})
	if !accepted {
		a.logger.WithField("event_type", string(event.EventType)).Warn("audit queue full, dropping event")
	}
	return nil
}

// Close drains queued events and closes the wrapped logger
func (a *AsyncLogger) Close() error {
	return errors.Join(a.pool.Close(10*time.Second), a.next.Close())
}

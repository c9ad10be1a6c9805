package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/denial"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Requester identifies who is submitting. IdentityID wins when set,
// otherwise the client IP is used.
type Requester struct {
	IdentityID string
	IP         string
}

// Key returns the window key for a submission to resourceID
func (r Requester) Key(resourceID string) string {
	if r.IdentityID != "" {
		return resourceID + "|user:" + r.IdentityID
	}
	return resourceID + "|ip:" + r.IP
}

func (r Requester) label() string {
	if r.IdentityID != "" {
		return "user"
	}
	return "ip"
}

// Config is the sliding window applied to every (resource, requester) pair
type Config struct {
	Window time.Duration
	Max    int
}

// DefaultConfig allows one submission per resource per requester per day
func DefaultConfig() Config {
	return Config{Window: 24 * time.Hour, Max: 1}
}

// Limiter enforces Config over a WindowStore. Store failures during Check
// fail open.
type Limiter struct {
	store   WindowStore
	config  Config
	now     func() time.Time
	metrics *observability.Metrics
	logger  *observability.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithLogger sets the logger used outside request scope, such as by the
// pruning job. Request paths log through the context logger.
func WithLogger(logger *observability.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a limiter. Zero config fields take their defaults.
func NewLimiter(store WindowStore, config Config, opts ...Option) *Limiter {
	defaults := DefaultConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.Max <= 0 {
		config.Max = defaults.Max
	}
	if store == nil {
		store = NewMemoryWindowStore()
	}

	l := &Limiter{
		store:  store,
		config: config,
		now:    time.Now,
		logger: observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the active window configuration
func (l *Limiter) Config() Config {
	return l.config
}

// Check denies when requester already has Max submissions for resourceID
// inside the trailing window. The retry hint is the time until the oldest
// of them leaves the window.
func (l *Limiter) Check(ctx context.Context, resourceID string, requester Requester) error {
	now := l.now()
	state, err := l.store.Count(ctx, requester.Key(resourceID), now.Add(-l.config.Window))
	if err != nil {
		l.metrics.RecordRateLimitStoreError("count")
		l.metrics.RecordRateLimit(requester.label(), "error")
		observability.FromContext(ctx).
			WithError(err).
			WithField("resource_id", resourceID).
			Warn("rate limit store unavailable, allowing submission")
		return nil
	}

	if state.Count >= l.config.Max {
		retryAfter := state.Oldest.Add(l.config.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.metrics.RecordRateLimit(requester.label(), "limited")
		return denial.RateLimited("ratelimit.check", retryAfter)
	}

	l.metrics.RecordRateLimit(requester.label(), "allowed")
	return nil
}

// Record stores an accepted submission
func (l *Limiter) Record(ctx context.Context, resourceID string, requester Requester) error {
	if err := l.store.Record(ctx, requester.Key(resourceID), l.now()); err != nil {
		l.metrics.RecordRateLimitStoreError("record")
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// Prune removes events that have left the window
func (l *Limiter) Prune(ctx context.Context) (int, error) {
	n, err := l.store.Prune(ctx, l.now().Add(-l.config.Window))
	if err != nil {
		l.metrics.RecordRateLimitStoreError("prune")
		return n, fmt.Errorf("failed to prune rate windows: %w", err)
	}
	l.metrics.RecordPruned(n)
	return n, nil
}

// StartPruning runs Prune on a cron schedule until ctx is cancelled
func (l *Limiter) StartPruning(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := l.Prune(ctx)
		if err != nil {
			l.logger.WithError(err).Warn("rate window pruning failed")
			return
		}
		l.logger.WithField("removed", n).Debug("rate windows pruned")
	})
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

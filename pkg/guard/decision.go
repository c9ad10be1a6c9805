package guard

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/ratelimit"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// auditTimeout bounds the background write of a quota release event
const auditTimeout = 5 * time.Second

// Decision is the result of a successful Evaluate
type Decision struct {
	Action rbac.Action
	// Identity is nil for anonymous callers of optional-auth actions
	Identity *auth.Identity
	Resource *rbac.Resource
	// Payer is the identity whose plan the reservation is charged to
	Payer       *auth.Identity
	Reservation *quota.Reservation

	chain       *Chain
	requester   ratelimit.Requester
	limitKey    string
	rateLimited bool

	mu       sync.Mutex
	settled  bool
	recorded bool
}

// Commit keeps the quota reservation. Later Rollback calls do nothing.
func (d *Decision) Commit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settled = true
}

// Rollback releases the quota reservation when the guarded operation
// failed. It is safe to call more than once and after Commit. The release
// is done when Rollback returns; its audit event is written in the
// background.
func (d *Decision) Rollback(ctx context.Context) error {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return nil
	}
	d.settled = true
	d.mu.Unlock()

	kind := d.Reservation.Kind()
	if err := d.Reservation.Release(ctx); err != nil {
		return err
	}
	if kind == "" {
		return nil
	}

	d.chain.deps.Metrics.RecordQuotaRelease(string(kind))

	event := audit.NewEvent(ctx, audit.EventTypeQuotaReleased, audit.EventStatusSuccess)
	event.Action = string(d.Action)
	if d.Payer != nil {
		event.IdentityID = d.Payer.ID
	}
	if d.Resource != nil {
		event.ResourceKind = string(d.Resource.Kind)
		event.ResourceID = d.Resource.ID
	}
	event.Metadata = map[string]interface{}{
		"quota_kind": string(kind),
		"amount":     d.Reservation.Amount(),
	}
	logger := d.chain.deps.Audit
	if logger == nil {
		logger = audit.FromContext(ctx)
	}
	async.SafeGo(ctx, auditTimeout, "quota release audit", func(ctx context.Context) error {
		return logger.Log(ctx, event)
	})
	return nil
}

// RecordSubmission stores an accepted submission in the rate window. It
// does nothing for actions that are not rate limited, and only the first
// call is recorded.
func (d *Decision) RecordSubmission(ctx context.Context) error {
	if !d.rateLimited {
		return nil
	}
	d.mu.Lock()
	if d.recorded {
		d.mu.Unlock()
		return nil
	}
	d.recorded = true
	d.mu.Unlock()

	return d.chain.deps.Limiter.Record(ctx, d.limitKey, d.requester)
}

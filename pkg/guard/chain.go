package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/denial"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/ratelimit"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Check names, used as metric labels and span names
const (
	CheckPolicy    = "policy"
	CheckVerify    = "verify"
	CheckRole      = "role"
	CheckResource  = "resource"
	CheckQuota     = "quota"
	CheckRateLimit = "ratelimit"
)

// Verifier resolves a credential to an identity
type Verifier interface {
	Verify(ctx context.Context, credential string, required bool) (*auth.Identity, error)
}

// Request is one attempt to perform an action
type Request struct {
	Credential string
	Action     rbac.Action
	// ResourceID of the target, for actions whose policy names a resource kind
	ResourceID string
	// Increment is the quota amount to reserve. Zero means one.
	Increment int64
	ClientIP  string
}

// Dependencies wires a Chain. Verifier, RBAC and Identities are required.
// Quota and Limiter are required only if a policy uses them.
type Dependencies struct {
	Verifier    Verifier
	Identities  auth.IdentityStore
	RBAC        *rbac.Guard
	Quota       *quota.Enforcer
	Limiter     *ratelimit.Limiter
	Metrics     *observability.Metrics
	Instruments *observability.GuardInstruments
	// Audit receives denials. Nil falls back to the logger in the
	// request context.
	Audit  audit.Logger
	Tracer trace.Tracer
}

// Chain runs the guard checks for an action in a fixed order: verify,
// role, resource, quota, rate limit. The first failure stops the chain.
type Chain struct {
	deps   Dependencies
	tracer trace.Tracer
}

// NewChain creates a chain
func NewChain(deps Dependencies) (*Chain, error) {
	if deps.Verifier == nil || deps.RBAC == nil || deps.Identities == nil {
		return nil, errors.New("guard: verifier, rbac guard and identity store are required")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}
	return &Chain{deps: deps, tracer: tracer}, nil
}

// Evaluate runs every check the action's policy calls for. On success the
// returned Decision holds the verified identity, the loaded resource and any
// quota reservation, which the caller must Commit or Rollback.
func (c *Chain) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "guard.evaluate", trace.WithAttributes(
		attribute.String("warden.action", string(req.Action)),
		attribute.String("warden.resource_id", req.ResourceID),
	))
	defer span.End()

	d, check, err := c.evaluate(ctx, req)

	denialKind := ""
	if err != nil {
		denialKind = string(denial.KindOf(err))
		span.SetAttributes(
			attribute.String("warden.denial", denialKind),
			attribute.String("warden.check", check),
		)
		span.SetStatus(codes.Error, denialKind)
		c.auditDenial(ctx, req, d, check, err)
		d = nil
	}
	c.deps.Instruments.RecordDecision(ctx, string(req.Action), denialKind, time.Since(start))
	return d, err
}

func (c *Chain) evaluate(ctx context.Context, req Request) (*Decision, string, error) {
	d := &Decision{Action: req.Action, chain: c}

	policy, ok := rbac.Lookup(req.Action)
	if !ok {
		return d, CheckPolicy, denial.Forbidden("guard.policy", "")
	}

	err := c.step(ctx, CheckVerify, func(ctx context.Context) error {
		identity, err := c.deps.Verifier.Verify(ctx, req.Credential, policy.Auth == rbac.AuthRequired)
		d.Identity = identity
		return err
	})
	if err != nil {
		return d, CheckVerify, err
	}
	if d.Identity != nil {
		ctx = observability.WithIdentityID(ctx, d.Identity.ID)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("warden.identity_id", d.Identity.ID),
			attribute.String("warden.role", string(d.Identity.Role)),
		)
	}

	if policy.Auth == rbac.AuthRequired || len(policy.Roles) > 0 {
		if err := c.step(ctx, CheckRole, func(context.Context) error {
			return c.deps.RBAC.RequireRole(d.Identity, req.Action)
		}); err != nil {
			return d, CheckRole, err
		}
	}

	if policy.ResourceKind != "" {
		err := c.step(ctx, CheckResource, func(ctx context.Context) error {
			var err error
			if policy.Ownership {
				d.Resource, err = c.deps.RBAC.Authorize(ctx, d.Identity, policy.ResourceKind, req.ResourceID)
			} else {
				d.Resource, err = c.deps.RBAC.Load(ctx, policy.ResourceKind, req.ResourceID)
			}
			return err
		})
		if err != nil {
			return d, CheckResource, err
		}
	}

	if policy.QuotaKind != "" {
		if err := c.step(ctx, CheckQuota, func(ctx context.Context) error {
			return c.reserve(ctx, d, policy, req.Increment)
		}); err != nil {
			return d, CheckQuota, err
		}
	}

	if policy.RateLimited {
		d.requester = ratelimit.Requester{IP: req.ClientIP}
		if d.Identity != nil {
			d.requester.IdentityID = d.Identity.ID
		}
		d.limitKey = req.ResourceID
		if d.Resource != nil {
			d.limitKey = d.Resource.ID
		}

		if err := c.step(ctx, CheckRateLimit, func(ctx context.Context) error {
			if c.deps.Limiter == nil {
				return denial.Internal("guard.ratelimit", errors.New("no rate limiter configured"))
			}
			return c.deps.Limiter.Check(ctx, d.limitKey, d.requester)
		}); err != nil {
			// The quota taken above must not leak when the submission is refused.
			if rerr := d.Reservation.Release(ctx); rerr != nil {
				observability.FromContext(ctx).WithError(rerr).Warn("failed to release quota after rate limit denial")
			} else if d.Reservation.Kind() != "" {
				c.deps.Metrics.RecordQuotaRelease(string(d.Reservation.Kind()))
			}
			return d, CheckRateLimit, err
		}
		d.rateLimited = true
	}

	return d, "", nil
}

func (c *Chain) reserve(ctx context.Context, d *Decision, policy rbac.Policy, increment int64) error {
	if c.deps.Quota == nil {
		return denial.Internal("guard.quota", errors.New("no quota enforcer configured"))
	}

	payer, err := c.payer(ctx, d, policy)
	if err != nil {
		return err
	}
	d.Payer = payer

	res, err := c.deps.Quota.Reserve(ctx, payer, policy.QuotaKind, increment)
	switch denial.KindOf(err) {
	case "":
		c.deps.Metrics.RecordQuotaReservation(string(policy.QuotaKind), "reserved")
	case denial.KindQuotaExceeded:
		c.deps.Metrics.RecordQuotaReservation(string(policy.QuotaKind), "exceeded")
	default:
		c.deps.Metrics.RecordQuotaReservation(string(policy.QuotaKind), "error")
	}
	if err != nil {
		return err
	}
	d.Reservation = res
	return nil
}

// payer resolves whose plan pays for the action
func (c *Chain) payer(ctx context.Context, d *Decision, policy rbac.Policy) (*auth.Identity, error) {
	if policy.QuotaPayer == rbac.PayerCaller {
		if d.Identity == nil {
			return nil, denial.Unauthenticated("guard.quota")
		}
		return d.Identity, nil
	}

	if d.Resource == nil {
		return nil, denial.Internal("guard.quota", errors.New("owner-paid quota without a resource"))
	}
	if d.Identity != nil && d.Identity.ID == d.Resource.OwnerID {
		return d.Identity, nil
	}
	owner, err := c.deps.Identities.Get(ctx, d.Resource.OwnerID)
	if err != nil {
		return nil, denial.Internal("guard.quota", fmt.Errorf("load owner %s: %w", d.Resource.OwnerID, err))
	}
	return owner.Sanitized(), nil
}

// step runs one check inside its own span and records its outcome
func (c *Chain) step(ctx context.Context, check string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "guard."+check)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	outcome := "pass"
	if err != nil {
		outcome = string(denial.KindOf(err))
		span.SetStatus(codes.Error, outcome)
		if denial.KindOf(err) == denial.KindInternal {
			span.RecordError(err)
		}
	}
	c.deps.Metrics.RecordGuardCheck(check, outcome, time.Since(start))
	return err
}

func (c *Chain) auditDenial(ctx context.Context, req Request, d *Decision, check string, err error) {
	kind := denial.KindOf(err)

	eventType := audit.EventTypeGuardDenied
	switch kind {
	case denial.KindQuotaExceeded:
		eventType = audit.EventTypeQuotaExceeded
	case denial.KindRateLimited:
		eventType = audit.EventTypeRateLimited
	}

	event := audit.NewEvent(ctx, eventType, audit.EventStatusDenied)
	event.Action = string(req.Action)
	event.ResourceID = req.ResourceID
	event.DenialKind = string(kind)
	event.Check = check
	event.IPAddress = req.ClientIP
	event.Message = denial.PublicMessage(err)
	if policy, ok := rbac.Lookup(req.Action); ok {
		event.ResourceKind = string(policy.ResourceKind)
	}
	if d != nil && d.Identity != nil {
		event.IdentityID = d.Identity.ID
		event.Role = string(d.Identity.Role)
	}
	var de *denial.Error
	if errors.As(err, &de) && de.Quota != nil {
		event.Metadata = map[string]interface{}{
			"quota_kind": de.Quota.Kind,
			"current":    de.Quota.Current,
			"limit":      de.Quota.Limit,
		}
	}

	logger := c.deps.Audit
	if logger == nil {
		logger = audit.FromContext(ctx)
	}
	if lerr := logger.Log(ctx, event); lerr != nil {
		observability.FromContext(ctx).WithError(lerr).Warn("failed to write audit event")
	}
}

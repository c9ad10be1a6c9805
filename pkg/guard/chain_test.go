package guard

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/denial"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/ratelimit"
	"github.com/platinummonkey/warden/pkg/rbac"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(_ context.Context, e *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) last() *audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type fixture struct {
	chain      *Chain
	identities *auth.MemoryIdentityStore
	resources  *rbac.MemoryResourceStore
	enforcer   *quota.Enforcer
	issuer     *auth.TokenIssuer
	audit      *recordingAudit
	metrics    *observability.Metrics
	spans      *tracetest.SpanRecorder
	clock      *time.Time
}

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = auth.GenerateSigningKey()
		require.NoError(t, err)
	})
	signing := testKey

	identities := auth.NewMemoryIdentityStore()
	resources := rbac.NewMemoryResourceStore()
	enforcer := quota.NewEnforcer(nil, nil)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	recorder := &recordingAudit{}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now

	issuer, err := auth.NewTokenIssuer(signing, "warden-test", "warden-api", time.Hour)
	require.NoError(t, err)

	chain, err := NewChain(Dependencies{
		Verifier:   auth.NewVerifier(&signing.PublicKey, "warden-test", "warden-api", identities),
		Identities: identities,
		RBAC:       rbac.NewGuard(resources, rbac.NewIdentityTeamDirectory(identities)),
		Quota:      enforcer,
		Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryWindowStore(), ratelimit.DefaultConfig(),
			ratelimit.WithClock(func() time.Time { return *clock })),
		Metrics: metrics,
		Audit:   recorder,
		Tracer:  tp.Tracer("guard-test"),
	})
	require.NoError(t, err)

	return &fixture{
		chain:      chain,
		identities: identities,
		resources:  resources,
		enforcer:   enforcer,
		issuer:     issuer,
		audit:      recorder,
		metrics:    metrics,
		spans:      spans,
		clock:      clock,
	}
}

func (f *fixture) identity(t *testing.T, id string, role auth.Role, plan quota.PlanTier) (*auth.Identity, string) {
	t.Helper()
	identity := &auth.Identity{ID: id, Email: id + "@example.com", Role: role, IsActive: true, Plan: plan}
	require.NoError(t, f.identities.Create(context.Background(), identity))
	token, _, err := f.issuer.Issue(identity)
	require.NoError(t, err)
	return identity, token
}

func (f *fixture) survey(t *testing.T, id, owner string) {
	t.Helper()
	require.NoError(t, f.resources.Put(context.Background(), &rbac.Resource{ID: id, Kind: rbac.ResourceSurvey, OwnerID: owner}))
}

func (f *fixture) usage(t *testing.T, acct quota.Account, kind quota.Kind) int64 {
	t.Helper()
	usage, err := f.enforcer.Usage(context.Background(), acct)
	require.NoError(t, err)
	return usage[kind]
}

func quotaDetail(t *testing.T, err error) *denial.QuotaDetail {
	t.Helper()
	var de *denial.Error
	require.True(t, errors.As(err, &de), "expected *denial.Error, got %v", err)
	require.NotNil(t, de.Quota)
	return de.Quota
}

func TestScenarioA_SurveyQuotaExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	researcher, token := f.identity(t, "r1", auth.RoleResearcher, quota.PlanFree)

	for i := 0; i < 5; i++ {
		d, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyCreate})
		require.NoError(t, err, "survey %d", i+1)
		d.Commit()
	}
	require.Equal(t, int64(5), f.usage(t, researcher, quota.KindSurveys))

	_, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyCreate})
	require.Equal(t, denial.KindQuotaExceeded, denial.KindOf(err))
	detail := quotaDetail(t, err)
	assert.Equal(t, "surveys", detail.Kind)
	assert.Equal(t, int64(5), detail.Current)
	assert.Equal(t, int64(5), detail.Limit)
	assert.Equal(t, int64(5), f.usage(t, researcher, quota.KindSurveys))

	event := f.audit.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.EventTypeQuotaExceeded, event.EventType)
	assert.Equal(t, CheckQuota, event.Check)
	assert.Equal(t, "r1", event.IdentityID)
}

func TestScenarioB_ViewerOnAdminAction(t *testing.T) {
	f := newFixture(t)
	_, token := f.identity(t, "v1", auth.RoleViewer, quota.PlanFree)

	_, err := f.chain.Evaluate(context.Background(), Request{Credential: token, Action: rbac.ActionAdminDeactivate})
	assert.Equal(t, denial.KindForbidden, denial.KindOf(err))
	assert.Equal(t, CheckRole, f.audit.last().Check)
}

func TestScenarioC_AnonymousSubmission(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.identity(t, "owner", auth.RoleResearcher, quota.PlanFree)
	f.survey(t, "s1", owner.ID)

	d, err := f.chain.Evaluate(context.Background(), Request{
		Action:     rbac.ActionResponseSubmit,
		ResourceID: "s1",
		ClientIP:   "203.0.113.7",
	})
	require.NoError(t, err)
	assert.Nil(t, d.Identity)
	require.NotNil(t, d.Resource)
	assert.Equal(t, "owner", d.Resource.OwnerID)
	assert.Equal(t, "owner", d.Payer.ID)
	assert.Equal(t, int64(1), f.usage(t, owner, quota.KindResponses))
}

func TestScenarioC_InvalidTokenOnOptionalAction(t *testing.T) {
	f := newFixture(t)
	f.identity(t, "owner", auth.RoleResearcher, quota.PlanFree)
	f.survey(t, "s1", "owner")

	d, err := f.chain.Evaluate(context.Background(), Request{
		Credential: "garbage",
		Action:     rbac.ActionResponseSubmit,
		ResourceID: "s1",
		ClientIP:   "203.0.113.7",
	})
	require.NoError(t, err)
	assert.Nil(t, d.Identity)
}

func TestScenarioD_ConcurrentCreatesAtBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	researcher, token := f.identity(t, "r1", auth.RoleResearcher, quota.PlanFree)

	for i := 0; i < 4; i++ {
		d, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyCreate})
		require.NoError(t, err)
		d.Commit()
	}

	var (
		wg       sync.WaitGroup
		allowed  atomic.Int32
		exceeded atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyCreate})
			switch denial.KindOf(err) {
			case "":
				allowed.Add(1)
			case denial.KindQuotaExceeded:
				exceeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load())
	assert.Equal(t, int32(9), exceeded.Load())
	assert.Equal(t, int64(5), f.usage(t, researcher, quota.KindSurveys))
}

func TestChain_OwnerPayerIsSanitized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := &auth.Identity{ID: "owner", Email: "owner@example.com", Role: auth.RoleResearcher, IsActive: true,
		Plan: quota.PlanFree, CredentialHash: "$2a$10$secret"}
	require.NoError(t, f.identities.Create(ctx, owner))
	f.survey(t, "s1", owner.ID)

	d, err := f.chain.Evaluate(ctx, Request{Action: rbac.ActionResponseSubmit, ResourceID: "s1", ClientIP: "198.51.100.1"})
	require.NoError(t, err)
	require.NotNil(t, d.Payer)
	assert.Equal(t, "owner", d.Payer.ID)
	assert.Empty(t, d.Payer.CredentialHash)
	require.NoError(t, d.Rollback(ctx))

	stored, err := f.identities.Get(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$secret", stored.CredentialHash)
}

func TestChain_RateLimitReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, _ := f.identity(t, "owner", auth.RoleResearcher, quota.PlanFree)
	f.survey(t, "s1", owner.ID)
	req := Request{Action: rbac.ActionResponseSubmit, ResourceID: "s1", ClientIP: "198.51.100.1"}

	d, err := f.chain.Evaluate(ctx, req)
	require.NoError(t, err)
	d.Commit()
	require.NoError(t, d.RecordSubmission(ctx))
	require.NoError(t, d.RecordSubmission(ctx))

	*f.clock = f.clock.Add(time.Hour)
	_, err = f.chain.Evaluate(ctx, req)
	require.Equal(t, denial.KindRateLimited, denial.KindOf(err))
	assert.Equal(t, int64(1), f.usage(t, owner, quota.KindResponses))
	assert.Equal(t, audit.EventTypeRateLimited, f.audit.last().EventType)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.QuotaReleasesTotal.WithLabelValues("responses")))

	*f.clock = f.clock.Add(24 * time.Hour)
	_, err = f.chain.Evaluate(ctx, req)
	assert.NoError(t, err)
}

func TestChain_RollbackAndCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	researcher, token := f.identity(t, "r1", auth.RoleResearcher, quota.PlanFree)

	d, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyCreate})
	require.NoError(t, err)
	require.Equal(t, int64(1), f.usage(t, researcher, quota.KindSurveys))

	require.NoError(t, d.Rollback(ctx))
	require.NoError(t, d.Rollback(ctx))
	assert.Equal(t, int64(0), f.usage(t, researcher, quota.KindSurveys))
	assert.Eventually(t, func() bool {
		last := f.audit.last()
		return last != nil && last.EventType == audit.EventTypeQuotaReleased
	}, time.Second, 5*time.Millisecond)

	d, err = f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyCreate})
	require.NoError(t, err)
	d.Commit()
	require.NoError(t, d.Rollback(ctx))
	assert.Equal(t, int64(1), f.usage(t, researcher, quota.KindSurveys))
}

func TestChain_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, aliceToken := f.identity(t, "alice", auth.RoleResearcher, quota.PlanFree)
	_, bobToken := f.identity(t, "bob", auth.RoleResearcher, quota.PlanFree)
	f.survey(t, "s1", "alice")

	d, err := f.chain.Evaluate(ctx, Request{Credential: aliceToken, Action: rbac.ActionSurveyUpdate, ResourceID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", d.Resource.ID)

	_, err = f.chain.Evaluate(ctx, Request{Credential: bobToken, Action: rbac.ActionSurveyUpdate, ResourceID: "s1"})
	assert.Equal(t, denial.KindForbidden, denial.KindOf(err))

	_, err = f.chain.Evaluate(ctx, Request{Credential: bobToken, Action: rbac.ActionSurveyUpdate, ResourceID: "missing"})
	assert.Equal(t, denial.KindNotFound, denial.KindOf(err))

	require.NoError(t, f.identities.SetTeamOwner(ctx, "bob", "alice"))
	_, err = f.chain.Evaluate(ctx, Request{Credential: bobToken, Action: rbac.ActionSurveyUpdate, ResourceID: "s1"})
	assert.NoError(t, err)
}

func TestChain_DeniedChecksAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, viewerToken := f.identity(t, "v1", auth.RoleViewer, quota.PlanFree)
	inactive, _ := f.identity(t, "gone", auth.RoleResearcher, quota.PlanFree)
	inactiveToken, _, err := f.issuer.Issue(inactive)
	require.NoError(t, err)
	require.NoError(t, f.identities.SetActive(ctx, "gone", false))

	tests := []struct {
		name string
		req  Request
		want denial.Kind
	}{
		{"no credential", Request{Action: rbac.ActionSurveyCreate}, denial.KindUnauthenticated},
		{"bad credential", Request{Credential: "x.y.z", Action: rbac.ActionSurveyCreate}, denial.KindInvalidToken},
		{"deactivated", Request{Credential: inactiveToken, Action: rbac.ActionAccountRead}, denial.KindAccountDeactivated},
		{"wrong role", Request{Credential: viewerToken, Action: rbac.ActionSurveyCreate}, denial.KindForbidden},
		{"unknown action", Request{Credential: viewerToken, Action: "survey.explode"}, denial.KindForbidden},
		{"missing survey", Request{Action: rbac.ActionResponseSubmit, ResourceID: "nope"}, denial.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				d, err := f.chain.Evaluate(ctx, tt.req)
				assert.Nil(t, d)
				assert.Equal(t, tt.want, denial.KindOf(err))
			}
		})
	}
}

func TestChain_UnlimitedPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, token := f.identity(t, "big", auth.RoleResearcher, quota.PlanEnterprise)

	for i := 0; i < 50; i++ {
		d, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyCreate})
		require.NoError(t, err)
		d.Commit()
	}
}

func TestChain_QuestionsCapIsPerRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, token := f.identity(t, "r1", auth.RoleResearcher, quota.PlanFree)
	f.survey(t, "s1", "r1")

	for i := 0; i < 3; i++ {
		d, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyQuestions, ResourceID: "s1", Increment: 20})
		require.NoError(t, err)
		d.Commit()
	}

	_, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyQuestions, ResourceID: "s1", Increment: 21})
	require.Equal(t, denial.KindQuotaExceeded, denial.KindOf(err))
	assert.Equal(t, int64(21), quotaDetail(t, err).Requested)
}

func TestChain_OwnerPaidQuotaWithMissingOwner(t *testing.T) {
	f := newFixture(t)
	f.survey(t, "orphan", "ghost")

	_, err := f.chain.Evaluate(context.Background(), Request{Action: rbac.ActionResponseSubmit, ResourceID: "orphan", ClientIP: "1.1.1.1"})
	assert.Equal(t, denial.KindInternal, denial.KindOf(err))
	assert.Equal(t, "internal server error", denial.PublicMessage(err))
}

func TestChain_Spans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, token := f.identity(t, "v1", auth.RoleViewer, quota.PlanFree)

	_, err := f.chain.Evaluate(ctx, Request{Credential: token, Action: rbac.ActionSurveyCreate})
	require.Error(t, err)

	names := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range f.spans.Ended() {
		names[s.Name()] = s
	}
	require.Contains(t, names, "guard.evaluate")
	require.Contains(t, names, "guard.verify")
	require.Contains(t, names, "guard.role")
	assert.NotContains(t, names, "guard.quota")

	root := names["guard.evaluate"]
	assert.Equal(t, codes.Error, root.Status().Code)
	assert.Equal(t, root.SpanContext().SpanID(), names["guard.role"].Parent().SpanID())

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.GuardDecisionsTotal.WithLabelValues(CheckVerify, "pass")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.GuardDecisionsTotal.WithLabelValues(CheckRole, "forbidden")))
}

func TestNewChain_RequiresDependencies(t *testing.T) {
	_, err := NewChain(Dependencies{})
	assert.Error(t, err)
}

package quota

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/denial"
)

type testAccount struct {
	id   string
	plan PlanTier
}

func (a testAccount) AccountID() string  { return a.id }
func (a testAccount) PlanTier() PlanTier { return a.plan }

func TestReserve_FreePlanSurveyBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanFree}

	store.Set("u1", KindSurveys, 4)

	res, err := enforcer.Reserve(ctx, acct, KindSurveys, 1)
	require.NoError(t, err)
	assert.Equal(t, KindSurveys, res.Kind())

	usage, _ := store.Usage(ctx, "u1", KindSurveys)
	assert.Equal(t, int64(5), usage)

	_, err = enforcer.Reserve(ctx, acct, KindSurveys, 1)
	require.Error(t, err)

	d, ok := denial.As(err)
	require.True(t, ok)
	assert.Equal(t, denial.KindQuotaExceeded, d.Kind)
	require.NotNil(t, d.Quota)
	assert.Equal(t, "surveys", d.Quota.Kind)
	assert.Equal(t, int64(5), d.Quota.Current)
	assert.Equal(t, int64(5), d.Quota.Limit)
	assert.Equal(t, "free", d.Quota.Plan)

	usage, _ = store.Usage(ctx, "u1", KindSurveys)
	assert.Equal(t, int64(5), usage, "refused reservation must not change usage")
}

func TestCheck_IsAdvisory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanFree}

	store.Set("u1", KindResponses, 99)
	assert.NoError(t, enforcer.Check(ctx, acct, KindResponses, 1))
	assert.NoError(t, enforcer.Check(ctx, acct, KindResponses, 1))

	usage, _ := store.Usage(ctx, "u1", KindResponses)
	assert.Equal(t, int64(99), usage)

	err := enforcer.Check(ctx, acct, KindResponses, 2)
	assert.True(t, denial.Is(err, denial.KindQuotaExceeded))
}

func TestReserve_UnlimitedPlanNeverRefuses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "ent", plan: PlanEnterprise}

	store.Set("ent", KindSurveys, 1_000_000)
	for i := 0; i < 10; i++ {
		_, err := enforcer.Reserve(ctx, acct, KindSurveys, 1)
		require.NoError(t, err)
	}
	assert.NoError(t, enforcer.Check(ctx, acct, KindStorage, 1<<50))
}

func TestReserve_UnknownPlanUsesFreeLimits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanTier("legacy-gold")}

	store.Set("u1", KindSurveys, 5)
	_, err := enforcer.Reserve(ctx, acct, KindSurveys, 1)
	assert.True(t, denial.Is(err, denial.KindQuotaExceeded))
}

func TestReserve_QuestionsArePerRequest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanFree}

	res, err := enforcer.Reserve(ctx, acct, KindQuestions, 20)
	require.NoError(t, err)
	assert.NoError(t, res.Release(ctx))

	// A second request of the same size is still allowed; nothing accumulated.
	_, err = enforcer.Reserve(ctx, acct, KindQuestions, 20)
	require.NoError(t, err)

	_, err = enforcer.Reserve(ctx, acct, KindQuestions, 21)
	d, ok := denial.As(err)
	require.True(t, ok)
	assert.Equal(t, int64(0), d.Quota.Current)
	assert.Equal(t, int64(21), d.Quota.Requested)
}

func TestReserve_StorageUsesIncrement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanFree}

	store.Set("u1", KindStorage, 100*mib-10)
	_, err := enforcer.Reserve(ctx, acct, KindStorage, 11)
	assert.True(t, denial.Is(err, denial.KindQuotaExceeded))

	_, err = enforcer.Reserve(ctx, acct, KindStorage, 10)
	assert.NoError(t, err)
}

func TestReserve_HugeIncrementCannotWrap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanFree}

	_, err := enforcer.Reserve(ctx, acct, KindStorage, 1)
	require.NoError(t, err)

	_, err = enforcer.Reserve(ctx, acct, KindStorage, math.MaxInt64)
	require.Error(t, err)
	d, ok := denial.As(err)
	require.True(t, ok)
	assert.Equal(t, denial.KindQuotaExceeded, d.Kind)
	assert.Equal(t, int64(1), d.Quota.Current)
	assert.Equal(t, int64(math.MaxInt64), d.Quota.Requested)

	usage, _ := store.Usage(ctx, "u1", KindStorage)
	assert.Equal(t, int64(1), usage)

	_, err = enforcer.Reserve(ctx, acct, KindStorage, 50<<30)
	assert.True(t, denial.Is(err, denial.KindQuotaExceeded))

	assert.True(t, denial.Is(enforcer.Check(ctx, acct, KindStorage, math.MaxInt64), denial.KindQuotaExceeded))
}

func TestMemoryUsageStore_AddNeverWraps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()

	_, err := store.Add(ctx, "u1", KindStorage, 10, Max(100))
	require.NoError(t, err)
	_, err = store.Add(ctx, "u1", KindStorage, math.MaxInt64, Max(100))
	assert.ErrorIs(t, err, ErrLimitReached)

	_, err = store.Add(ctx, "u2", KindStorage, math.MaxInt64-1, Unlimited)
	require.NoError(t, err)
	n, err := store.Add(ctx, "u2", KindStorage, math.MaxInt64, Unlimited)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), n)
}

func TestEnforcer_CountedTeamSeats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "owner", plan: PlanFree}

	var seats atomic.Int64
	enforcer.CountWith(KindTeamMembers, func(_ context.Context, accountID string) (int64, error) {
		assert.Equal(t, "owner", accountID)
		return seats.Load(), nil
	})

	require.NoError(t, enforcer.Within(ctx, acct, KindTeamMembers))
	require.NoError(t, enforcer.Check(ctx, acct, KindTeamMembers, 1))

	seats.Store(1)
	require.NoError(t, enforcer.Within(ctx, acct, KindTeamMembers))
	assert.True(t, denial.Is(enforcer.Check(ctx, acct, KindTeamMembers, 1), denial.KindQuotaExceeded))
	_, err := enforcer.Reserve(ctx, acct, KindTeamMembers, 1)
	assert.True(t, denial.Is(err, denial.KindQuotaExceeded))

	seats.Store(2)
	err = enforcer.Within(ctx, acct, KindTeamMembers)
	require.Error(t, err)
	d, ok := denial.As(err)
	require.True(t, ok)
	assert.Equal(t, int64(1), d.Quota.Current)
	assert.Equal(t, int64(1), d.Quota.Limit)

	usage, err := enforcer.Usage(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage[KindTeamMembers])
	stored, _ := store.Usage(ctx, "owner", KindTeamMembers)
	assert.Zero(t, stored, "seats are never written to the usage store")

	enterprise := testAccount{id: "owner", plan: PlanEnterprise}
	assert.NoError(t, enforcer.Within(ctx, enterprise, KindTeamMembers))
}

func TestEnforcer_CounterErrorsAreInternal(t *testing.T) {
	enforcer := NewEnforcer(nil, nil)
	enforcer.CountWith(KindTeamMembers, func(context.Context, string) (int64, error) {
		return 0, errors.New("directory down")
	})
	acct := testAccount{id: "owner", plan: PlanFree}

	assert.True(t, denial.Is(enforcer.Within(context.Background(), acct, KindTeamMembers), denial.KindInternal))
	_, err := enforcer.Reserve(context.Background(), acct, KindTeamMembers, 1)
	assert.True(t, denial.Is(err, denial.KindInternal))
}

func TestEnforcer_UncountedKindsSkipUsage(t *testing.T) {
	usage, err := NewEnforcer(nil, nil).Usage(context.Background(), testAccount{id: "u1", plan: PlanFree})
	require.NoError(t, err)
	assert.NotContains(t, usage, KindTeamMembers)
	assert.NotContains(t, usage, KindQuestions)
	assert.Contains(t, usage, KindSurveys)
}

func TestReservation_ReleaseOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanFree}

	store.Set("u1", KindSurveys, 2)
	res, err := enforcer.Reserve(ctx, acct, KindSurveys, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Amount(), "non-positive increments count as one")

	require.NoError(t, res.Release(ctx))
	require.NoError(t, res.Release(ctx))

	usage, _ := store.Usage(ctx, "u1", KindSurveys)
	assert.Equal(t, int64(2), usage)

	var nilRes *Reservation
	assert.NoError(t, nilRes.Release(ctx))
}

// At usage = limit-1, exactly one of many concurrent reservations succeeds.
func TestReserve_ConcurrentAtBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanFree}

	store.Set("u1", KindSurveys, 4)

	const racers = 50
	var (
		wg      sync.WaitGroup
		granted int32
		denied  int32
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := enforcer.Reserve(ctx, acct, KindSurveys, 1)
			if err == nil {
				atomic.AddInt32(&granted, 1)
			} else if denial.Is(err, denial.KindQuotaExceeded) {
				atomic.AddInt32(&denied, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), granted)
	assert.Equal(t, int32(racers-1), denied)
	usage, _ := store.Usage(ctx, "u1", KindSurveys)
	assert.Equal(t, int64(5), usage)
}

type failingStore struct{}

func (failingStore) Usage(context.Context, string, Kind) (int64, error) {
	return 0, errors.New("store down")
}
func (failingStore) Add(context.Context, string, Kind, int64, Limit) (int64, error) {
	return 0, errors.New("store down")
}
func (failingStore) Sub(context.Context, string, Kind, int64) error { return errors.New("store down") }

func TestReserve_StoreErrorIsInternal(t *testing.T) {
	enforcer := NewEnforcer(nil, failingStore{})
	acct := testAccount{id: "u1", plan: PlanFree}

	_, err := enforcer.Reserve(context.Background(), acct, KindSurveys, 1)
	assert.Equal(t, denial.KindInternal, denial.KindOf(err))

	err = enforcer.Check(context.Background(), acct, KindSurveys, 1)
	assert.Equal(t, denial.KindInternal, denial.KindOf(err))
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	enforcer := NewEnforcer(nil, store)
	acct := testAccount{id: "u1", plan: PlanStarter}

	store.Set("u1", KindSurveys, 25)
	store.Set("u1", KindResponses, 10)

	report, err := enforcer.Report(ctx, acct)
	require.NoError(t, err)
	require.Len(t, report, len(Kinds()))

	byKind := map[Kind]Status{}
	for _, st := range report {
		byKind[st.Kind] = st
	}
	assert.Equal(t, int64(0), byKind[KindSurveys].Remaining)
	assert.Equal(t, int64(990), byKind[KindResponses].Remaining)
	assert.Equal(t, int64(50), byKind[KindQuestions].Limit.Value())

	require.NoError(t, enforcer.Release(ctx, acct, KindSurveys, 30))
	usage, _ := store.Usage(ctx, "u1", KindSurveys)
	assert.Equal(t, int64(0), usage)
}

package quota

import (
	"context"
	"errors"
	"sync"

	"github.com/platinummonkey/warden/pkg/denial"
)

// Enforcer decides whether an account may consume more of a quota kind.
type Enforcer struct {
	plans *PlanTable
	store UsageStore

	mu       sync.RWMutex
	counters map[Kind]Counter
}

// Counter measures live usage of a kind that is not kept as a running
// total, such as the seats on an owner's team.
type Counter func(ctx context.Context, accountID string) (int64, error)

// NewEnforcer creates an enforcer. A nil plans table uses DefaultPlans and
// a nil store keeps usage in memory.
func NewEnforcer(plans *PlanTable, store UsageStore) *Enforcer {
	if plans == nil {
		plans = DefaultPlanTable()
	}
	if store == nil {
		store = NewMemoryUsageStore()
	}
	return &Enforcer{plans: plans, store: store, counters: make(map[Kind]Counter)}
}

// CountWith measures kind with counter from now on. It only applies to
// kinds that are not cumulative.
func (e *Enforcer) CountWith(kind Kind, counter Counter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters[kind] = counter
}

func (e *Enforcer) counter(kind Kind) Counter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.counters[kind]
}

// current returns acct's usage of kind: the stored total for cumulative
// kinds, the live count for counted kinds and zero for per-request kinds.
func (e *Enforcer) current(ctx context.Context, acct Account, kind Kind) (int64, error) {
	if kind.Cumulative() {
		return e.store.Usage(ctx, acct.AccountID(), kind)
	}
	if counter := e.counter(kind); counter != nil {
		return counter(ctx, acct.AccountID())
	}
	return 0, nil
}

// Plans returns the plan table the enforcer reads limits from.
func (e *Enforcer) Plans() *PlanTable {
	return e.plans
}

// Check reports whether increment more units of kind fit in acct's plan.
// It is advisory: nothing is recorded, so a concurrent request can still
// consume the last unit. Use Reserve where the limit must hold.
func (e *Enforcer) Check(ctx context.Context, acct Account, kind Kind, increment int64) error {
	increment = normalizeIncrement(increment)
	limit := e.plans.Limit(acct.PlanTier(), kind)
	if limit.IsUnlimited() {
		return nil
	}

	current, err := e.current(ctx, acct, kind)
	if err != nil {
		return denial.Internal("quota.check", err)
	}

	if !limit.Allows(current, increment) {
		return e.exceeded("quota.check", acct, kind, current, limit, increment)
	}
	return nil
}

// Within reports whether acct's live usage of a counted kind still fits
// its plan. Callers change the underlying state first and undo the change
// when Within refuses, so concurrent additions cannot both squeeze in.
func (e *Enforcer) Within(ctx context.Context, acct Account, kind Kind) error {
	limit := e.plans.Limit(acct.PlanTier(), kind)
	if limit.IsUnlimited() {
		return nil
	}
	current, err := e.current(ctx, acct, kind)
	if err != nil {
		return denial.Internal("quota.within", err)
	}
	if current > limit.Value() {
		return e.exceeded("quota.within", acct, kind, current-1, limit, 1)
	}
	return nil
}

// Reserve atomically consumes increment units of kind for acct. On success
// the returned Reservation can be released if the guarded operation fails.
// Per-request and counted kinds are checked but never recorded.
func (e *Enforcer) Reserve(ctx context.Context, acct Account, kind Kind, increment int64) (*Reservation, error) {
	increment = normalizeIncrement(increment)
	limit := e.plans.Limit(acct.PlanTier(), kind)

	if !kind.Cumulative() {
		current, err := e.current(ctx, acct, kind)
		if err != nil {
			return nil, denial.Internal("quota.reserve", err)
		}
		if !limit.Allows(current, increment) {
			return nil, e.exceeded("quota.reserve", acct, kind, current, limit, increment)
		}
		return &Reservation{}, nil
	}

	if !limit.IsUnlimited() && increment > limit.Value() {
		current, err := e.store.Usage(ctx, acct.AccountID(), kind)
		if err != nil {
			return nil, denial.Internal("quota.reserve", err)
		}
		return nil, e.exceeded("quota.reserve", acct, kind, current, limit, increment)
	}

	current, err := e.store.Add(ctx, acct.AccountID(), kind, increment, limit)
	if errors.Is(err, ErrLimitReached) {
		return nil, e.exceeded("quota.reserve", acct, kind, current, limit, increment)
	}
	if err != nil {
		return nil, denial.Internal("quota.reserve", err)
	}

	return &Reservation{
		store:     e.store,
		accountID: acct.AccountID(),
		kind:      kind,
		amount:    increment,
	}, nil
}

// Release gives back units consumed outside a Reservation, such as when a
// survey is deleted.
func (e *Enforcer) Release(ctx context.Context, acct Account, kind Kind, amount int64) error {
	if !kind.Cumulative() || amount <= 0 {
		return nil
	}
	return e.store.Sub(ctx, acct.AccountID(), kind, amount)
}

// Usage returns acct's current counters for every cumulative or counted
// kind.
func (e *Enforcer) Usage(ctx context.Context, acct Account) (map[Kind]int64, error) {
	out := make(map[Kind]int64)
	for _, k := range Kinds() {
		if !k.Cumulative() && e.counter(k) == nil {
			continue
		}
		n, err := e.current(ctx, acct, k)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

// Report returns usage against limits for every kind.
func (e *Enforcer) Report(ctx context.Context, acct Account) ([]Status, error) {
	usage, err := e.Usage(ctx, acct)
	if err != nil {
		return nil, err
	}

	report := make([]Status, 0, len(Kinds()))
	for _, k := range Kinds() {
		limit := e.plans.Limit(acct.PlanTier(), k)
		st := Status{Kind: k, Used: usage[k], Limit: limit, Remaining: -1}
		if !limit.IsUnlimited() {
			st.Remaining = limit.Value() - st.Used
			if st.Remaining < 0 {
				st.Remaining = 0
			}
		}
		report = append(report, st)
	}
	return report, nil
}

func (e *Enforcer) exceeded(op string, acct Account, kind Kind, current int64, limit Limit, increment int64) error {
	return denial.QuotaExceeded(op, denial.QuotaDetail{
		Kind:      string(kind),
		Plan:      string(e.plans.Resolve(acct.PlanTier())),
		Current:   current,
		Limit:     limit.Value(),
		Requested: increment,
	})
}

func normalizeIncrement(n int64) int64 {
	if n <= 0 {
		return 1
	}
	return n
}

// Reservation is quota consumed by an in-flight operation.
type Reservation struct {
	store     UsageStore
	accountID string
	kind      Kind
	amount    int64
	once      sync.Once
}

// Kind returns the reserved quota kind, or "" for a no-op reservation.
func (r *Reservation) Kind() Kind {
	if r == nil {
		return ""
	}
	return r.kind
}

// Amount returns the number of reserved units.
func (r *Reservation) Amount() int64 {
	if r == nil {
		return 0
	}
	return r.amount
}

// Release returns the reserved units. Only the first call has an effect
// and a nil Reservation is a no-op.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		err = r.store.Sub(ctx, r.accountID, r.kind, r.amount)
	})
	return err
}

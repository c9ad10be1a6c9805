package quota

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	mib = int64(1024 * 1024)
	gib = 1024 * mib
)

// DefaultPlans returns the built-in plan table.
func DefaultPlans() map[PlanTier]Limits {
	return map[PlanTier]Limits{
		PlanFree: {
			KindSurveys:     Max(5),
			KindResponses:   Max(100),
			KindQuestions:   Max(20),
			KindTeamMembers: Max(1),
			KindStorage:     Max(100 * mib),
			KindSubscribers: Max(50),
		},
		PlanStarter: {
			KindSurveys:     Max(20),
			KindResponses:   Max(1000),
			KindQuestions:   Max(50),
			KindTeamMembers: Max(3),
			KindStorage:     Max(gib),
			KindSubscribers: Max(100),
		},
		PlanProfessional: {
			KindSurveys:     Max(100),
			KindResponses:   Max(10000),
			KindQuestions:   Max(100),
			KindTeamMembers: Max(10),
			KindStorage:     Max(10 * gib),
			KindSubscribers: Max(1000),
		},
		PlanBusiness: {
			KindSurveys:     Max(500),
			KindResponses:   Max(100000),
			KindQuestions:   Max(200),
			KindTeamMembers: Max(25),
			KindStorage:     Max(100 * gib),
			KindSubscribers: Max(5000),
		},
		PlanEnterprise: {
			KindSurveys:     Unlimited,
			KindResponses:   Unlimited,
			KindQuestions:   Unlimited,
			KindTeamMembers: Unlimited,
			KindStorage:     Unlimited,
			KindSubscribers: Unlimited,
		},
	}
}

// PlanTable resolves plan limits. It is safe for concurrent use and can be
// swapped wholesale while requests are in flight.
type PlanTable struct {
	mu    sync.RWMutex
	plans map[PlanTier]Limits
}

// NewPlanTable validates plans and returns a table over them.
func NewPlanTable(plans map[PlanTier]Limits) (*PlanTable, error) {
	if err := validatePlans(plans); err != nil {
		return nil, err
	}
	return &PlanTable{plans: clonePlans(plans)}, nil
}

// DefaultPlanTable returns a table over DefaultPlans.
func DefaultPlanTable() *PlanTable {
	return &PlanTable{plans: DefaultPlans()}
}

// Replace swaps in a new set of plans after validating them.
func (t *PlanTable) Replace(plans map[PlanTier]Limits) error {
	if err := validatePlans(plans); err != nil {
		return err
	}
	cloned := clonePlans(plans)
	t.mu.Lock()
	t.plans = cloned
	t.mu.Unlock()
	return nil
}

// Limit returns the limit for kind on tier. Unknown tiers resolve to free,
// and a kind missing from a plan inherits the free plan's value.
func (t *PlanTable) Limit(tier PlanTier, kind Kind) Limit {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limits, ok := t.plans[tier]; ok {
		if l, ok := limits[kind]; ok {
			return l
		}
	}
	if l, ok := t.plans[PlanFree][kind]; ok {
		return l
	}
	return Max(0)
}

// Resolve returns the tier actually used for limits: tier itself when the
// table defines it, free otherwise.
func (t *PlanTable) Resolve(tier PlanTier) PlanTier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.plans[tier]; ok {
		return tier
	}
	return PlanFree
}

// LimitsFor returns a copy of every limit for tier.
func (t *PlanTable) LimitsFor(tier PlanTier) Limits {
	out := make(Limits, len(Kinds()))
	for _, k := range Kinds() {
		out[k] = t.Limit(tier, k)
	}
	return out
}

// Snapshot returns a copy of the full table.
func (t *PlanTable) Snapshot() map[PlanTier]Limits {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return clonePlans(t.plans)
}

type planFile struct {
	Plans map[PlanTier]Limits `yaml:"plans"`
}

// LoadPlans reads a plan table from a YAML file of the form
//
//	plans:
//	  free:
//	    surveys: 5
//	  enterprise:
//	    surveys: unlimited
func LoadPlans(path string) (map[PlanTier]Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes and validates a YAML plan table.
func ParsePlans(data []byte) (map[PlanTier]Limits, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plans: %w", err)
	}
	if err := validatePlans(f.Plans); err != nil {
		return nil, err
	}
	return f.Plans, nil
}

// MarshalPlans renders plans as YAML in the LoadPlans format.
func MarshalPlans(plans map[PlanTier]Limits) ([]byte, error) {
	return yaml.Marshal(planFile{Plans: plans})
}

func validatePlans(plans map[PlanTier]Limits) error {
	if len(plans) == 0 {
		return fmt.Errorf("plan table is empty")
	}
	free, ok := plans[PlanFree]
	if !ok {
		return fmt.Errorf("plan table must define the %q plan", PlanFree)
	}
	for _, k := range Kinds() {
		if _, ok := free[k]; !ok {
			return fmt.Errorf("plan %q is missing a limit for %q", PlanFree, k)
		}
	}
	for tier, limits := range plans {
		for k := range limits {
			if !validKind(k) {
				return fmt.Errorf("plan %q has unknown quota kind %q", tier, k)
			}
		}
	}
	return nil
}

func validKind(k Kind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

func clonePlans(plans map[PlanTier]Limits) map[PlanTier]Limits {
	out := make(map[PlanTier]Limits, len(plans))
	for tier, limits := range plans {
		cp := make(Limits, len(limits))
		for k, l := range limits {
			cp[k] = l
		}
		out[tier] = cp
	}
	return out
}

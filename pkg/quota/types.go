package quota

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanTier is a subscription plan.
type PlanTier string

const (
	PlanFree         PlanTier = "free"
	PlanStarter      PlanTier = "starter"
	PlanProfessional PlanTier = "professional"
	PlanBusiness     PlanTier = "business"
	PlanEnterprise   PlanTier = "enterprise"
)

var tierRank = map[PlanTier]int{
	PlanFree:         0,
	PlanStarter:      1,
	PlanProfessional: 2,
	PlanBusiness:     3,
	PlanEnterprise:   4,
}

// Tiers returns the known plans in ascending order.
func Tiers() []PlanTier {
	return []PlanTier{PlanFree, PlanStarter, PlanProfessional, PlanBusiness, PlanEnterprise}
}

// Rank orders plans from free (0) upwards. Unknown plans rank as free.
func (p PlanTier) Rank() int {
	return tierRank[p]
}

// Known reports whether p is one of the built-in plans.
func (p PlanTier) Known() bool {
	_, ok := tierRank[p]
	return ok
}

// ParsePlanTier normalizes s and reports whether it names a known plan.
func ParsePlanTier(s string) (PlanTier, bool) {
	p := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Known()
}

// Kind is a quota-limited quantity.
type Kind string

const (
	KindSurveys     Kind = "surveys"
	KindResponses   Kind = "responses"
	KindQuestions   Kind = "questions"
	KindTeamMembers Kind = "team_members"
	KindStorage     Kind = "storage_bytes"
	KindSubscribers Kind = "subscribers"
)

// Kinds returns every quota kind.
func Kinds() []Kind {
	return []Kind{KindSurveys, KindResponses, KindQuestions, KindTeamMembers, KindStorage, KindSubscribers}
}

// Cumulative reports whether usage of k is kept as a running total in the
// UsageStore. Questions are capped per request. Team seats are counted
// from the team directory, so re-adding a member never costs a seat.
func (k Kind) Cumulative() bool {
	return k != KindQuestions && k != KindTeamMembers
}

// Limit is either a finite maximum or Unlimited.
type Limit struct {
	max       int64
	unlimited bool
}

// Unlimited never refuses.
var Unlimited = Limit{unlimited: true}

// Max returns a finite limit. Negative values are clamped to zero.
func Max(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{max: n}
}

// IsUnlimited reports whether l never refuses.
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Value returns the finite maximum, or -1 for Unlimited.
func (l Limit) Value() int64 {
	if l.unlimited {
		return -1
	}
	return l.max
}

// Allows reports whether current+increment stays within the limit. The
// comparison is done without forming the sum, so huge increments cannot
// wrap around and pass.
func (l Limit) Allows(current, increment int64) bool {
	if l.unlimited {
		return true
	}
	if current < 0 {
		current = 0
	}
	if increment > l.max {
		return false
	}
	return increment <= l.max-current
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(l.max, 10)
}

// parseLimit accepts an integer, -1, or "unlimited".
func parseLimit(s string) (Limit, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "unlimited" || s == "-1" {
		return Unlimited, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Limit{}, fmt.Errorf("invalid limit %q", s)
	}
	if n < -1 {
		return Limit{}, fmt.Errorf("invalid limit %d", n)
	}
	return Max(n), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: limit must be a scalar", node.Line)
	}
	parsed, err := parseLimit(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*l = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (l Limit) MarshalYAML() (interface{}, error) {
	if l.unlimited {
		return "unlimited", nil
	}
	return l.max, nil
}

// MarshalJSON renders finite limits as numbers and Unlimited as "unlimited".
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(l.max)
}

// Limits maps each quota kind to its limit for one plan.
type Limits map[Kind]Limit

// Account is the party whose plan and usage a quota applies to.
type Account interface {
	AccountID() string
	PlanTier() PlanTier
}

// Status is one row of an account's usage report.
type Status struct {
	Kind      Kind  `json:"kind"`
	Used      int64 `json:"used"`
	Limit     Limit `json:"limit"`
	Remaining int64 `json:"remaining"`
}

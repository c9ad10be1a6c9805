package rbac

import (
	"errors"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/quota"
)

// ErrResourceNotFound is returned by ResourceStore implementations
var ErrResourceNotFound = errors.New("resource not found")

// ResourceKind names a type of guarded business object
type ResourceKind string

const (
	ResourceSurvey   ResourceKind = "survey"
	ResourceCourse   ResourceKind = "course"
	ResourceBoxPlan  ResourceKind = "box_plan"
	ResourceContract ResourceKind = "contract"
)

// Resource is the ownership record of a business object. The object itself
// lives with the business layer.
type Resource struct {
	ID          string       `json:"id"`
	Kind        ResourceKind `json:"kind"`
	OwnerID     string       `json:"owner_id"`
	TeamOwnerID string       `json:"team_owner_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Action is a symbolic capability, such as "survey.create"
type Action string

const (
	ActionSurveyCreate    Action = "survey.create"
	ActionSurveyRead      Action = "survey.read"
	ActionSurveyUpdate    Action = "survey.update"
	ActionSurveyDelete    Action = "survey.delete"
	ActionSurveyPublish   Action = "survey.publish"
	ActionSurveyAnalytics Action = "survey.analytics"
	ActionSurveyQuestions Action = "survey.questions.set"
	ActionResponseSubmit  Action = "response.submit"

	ActionTeamMemberAdd    Action = "team.member.add"
	ActionTeamMemberRemove Action = "team.member.remove"
	ActionTeamJoin         Action = "team.join"
	ActionFileUpload       Action = "file.upload"

	ActionBoxCreate    Action = "box.create"
	ActionBoxSubscribe Action = "box.subscribe"

	ActionCourseCreate Action = "course.create"
	ActionCourseUpdate Action = "course.update"
	ActionCourseEnroll Action = "course.enroll"

	ActionAdminDeactivate Action = "admin.identity.deactivate"
	ActionAdminPlan       Action = "admin.identity.plan"

	ActionAccountRead Action = "account.read"
)

// AuthMode says whether an action needs a verified identity
type AuthMode int

const (
	AuthRequired AuthMode = iota
	AuthOptional
)

// Payer selects whose plan a quota reservation is charged to
type Payer int

const (
	// PayerCaller charges the authenticated identity
	PayerCaller Payer = iota
	// PayerOwner charges the owner of the target resource, so anonymous
	// survey responses count against the survey author's plan
	PayerOwner
)

// Policy is the static rule set for one action
type Policy struct {
	Auth AuthMode
	// Roles allowed to perform the action. Empty means any authenticated
	// identity. Admin is always allowed.
	Roles []auth.Role
	// ResourceKind, when set, makes the action target a resource that is
	// loaded before quota and rate checks run.
	ResourceKind ResourceKind
	// Ownership requires the caller to own the loaded resource
	Ownership bool
	// QuotaKind, when set, reserves quota before the action runs
	QuotaKind   quota.Kind
	QuotaPayer  Payer
	RateLimited bool
}

// Allows reports whether role may perform an action under this policy
func (p Policy) Allows(role auth.Role) bool {
	if role == auth.RoleAdmin || len(p.Roles) == 0 {
		return true
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

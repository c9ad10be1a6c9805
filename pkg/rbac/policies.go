package rbac

import (
	"sort"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/quota"
)

var (
	surveyAuthors = []auth.Role{auth.RoleResearcher}
	surveyReaders = []auth.Role{auth.RoleResearcher, auth.RoleAnalyst, auth.RoleViewer}
	teamOwners    = []auth.Role{auth.RoleResearcher, auth.RoleBusinessOwner, auth.RoleInstructor}
	adminOnly     = []auth.Role{auth.RoleAdmin}
)

// Policies is the action table. It is read-only after init.
var Policies = map[Action]Policy{
	ActionSurveyCreate: {
		Roles:     surveyAuthors,
		QuotaKind: quota.KindSurveys,
	},
	ActionSurveyRead: {
		Roles:        surveyReaders,
		ResourceKind: ResourceSurvey,
		Ownership:    true,
	},
	ActionSurveyUpdate: {
		Roles:        surveyAuthors,
		ResourceKind: ResourceSurvey,
		Ownership:    true,
	},
	ActionSurveyDelete: {
		Roles:        surveyAuthors,
		ResourceKind: ResourceSurvey,
		Ownership:    true,
	},
	ActionSurveyPublish: {
		Roles:        surveyAuthors,
		ResourceKind: ResourceSurvey,
		Ownership:    true,
	},
	ActionSurveyAnalytics: {
		Roles:        []auth.Role{auth.RoleResearcher, auth.RoleAnalyst},
		ResourceKind: ResourceSurvey,
		Ownership:    true,
	},
	ActionSurveyQuestions: {
		Roles:        surveyAuthors,
		ResourceKind: ResourceSurvey,
		Ownership:    true,
		QuotaKind:    quota.KindQuestions,
		QuotaPayer:   PayerOwner,
	},
	ActionResponseSubmit: {
		Auth:         AuthOptional,
		ResourceKind: ResourceSurvey,
		QuotaKind:    quota.KindResponses,
		QuotaPayer:   PayerOwner,
		RateLimited:  true,
	},

	// Seats are checked by the handler against the live team size, so
	// inviting someone twice never costs a second seat.
	ActionTeamMemberAdd:    {Roles: teamOwners},
	ActionTeamMemberRemove: {Roles: teamOwners},
	ActionTeamJoin:         {},
	ActionFileUpload: {
		QuotaKind: quota.KindStorage,
	},

	ActionBoxCreate: {
		Roles: []auth.Role{auth.RoleBusinessOwner},
	},
	ActionBoxSubscribe: {
		Roles:        []auth.Role{auth.RoleCustomer},
		ResourceKind: ResourceBoxPlan,
		QuotaKind:    quota.KindSubscribers,
		QuotaPayer:   PayerOwner,
	},

	ActionCourseCreate: {
		Roles: []auth.Role{auth.RoleInstructor},
	},
	ActionCourseUpdate: {
		Roles:        []auth.Role{auth.RoleInstructor},
		ResourceKind: ResourceCourse,
		Ownership:    true,
	},
	ActionCourseEnroll: {
		Roles:        []auth.Role{auth.RoleStudent},
		ResourceKind: ResourceCourse,
	},

	ActionAdminDeactivate: {Roles: adminOnly},
	ActionAdminPlan:       {Roles: adminOnly},

	ActionAccountRead: {},
}

// Lookup returns the policy for action
func Lookup(action Action) (Policy, bool) {
	p, ok := Policies[action]
	return p, ok
}

// Actions returns every known action, sorted
func Actions() []Action {
	out := make([]Action, 0, len(Policies))
	for a := range Policies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

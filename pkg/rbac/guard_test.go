package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/denial"
)

type stubTeams map[string]string

func (s stubTeams) TeamOwner(_ context.Context, id string) (string, error) {
	return s[id], nil
}

type failingTeams struct{}

func (failingTeams) TeamOwner(context.Context, string) (string, error) {
	return "", errors.New("directory offline")
}

func newTestGuard(t *testing.T, teams TeamDirectory) *Guard {
	t.Helper()
	store := NewMemoryResourceStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, &Resource{ID: "s1", Kind: ResourceSurvey, OwnerID: "alice"}))
	require.NoError(t, store.Put(ctx, &Resource{ID: "s2", Kind: ResourceSurvey, OwnerID: "bob", TeamOwnerID: "carol"}))
	return NewGuard(store, teams)
}

func TestGuard_Authorize(t *testing.T) {
	teams := stubTeams{
		"alice-member": "alice",
		"carol-member": "carol",
		"dave-member":  "dave",
	}
	guard := newTestGuard(t, teams)

	tests := []struct {
		name     string
		identity *auth.Identity
		id       string
		want     denial.Kind
	}{
		{"owner", &auth.Identity{ID: "alice", Role: auth.RoleResearcher}, "s1", ""},
		{"stranger", &auth.Identity{ID: "eve", Role: auth.RoleResearcher}, "s1", denial.KindForbidden},
		{"admin", &auth.Identity{ID: "root", Role: auth.RoleAdmin}, "s1", ""},
		{"team owner field", &auth.Identity{ID: "carol", Role: auth.RoleResearcher}, "s2", ""},
		{"member of owner's team", &auth.Identity{ID: "alice-member", Role: auth.RoleViewer}, "s1", ""},
		{"member of resource team", &auth.Identity{ID: "carol-member", Role: auth.RoleAnalyst}, "s2", ""},
		{"member of unrelated team", &auth.Identity{ID: "dave-member", Role: auth.RoleResearcher}, "s1", denial.KindForbidden},
		{"missing resource", &auth.Identity{ID: "alice", Role: auth.RoleResearcher}, "nope", denial.KindNotFound},
		{"missing resource as admin", &auth.Identity{ID: "root", Role: auth.RoleAdmin}, "nope", denial.KindNotFound},
		{"empty id", &auth.Identity{ID: "alice", Role: auth.RoleResearcher}, "", denial.KindNotFound},
		{"anonymous", nil, "s1", denial.KindUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := guard.Authorize(context.Background(), tt.identity, ResourceSurvey, tt.id)
			if tt.want == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.id, res.ID)
				return
			}
			assert.Equal(t, tt.want, denial.KindOf(err))
			assert.Nil(t, res)
		})
	}
}

func TestGuard_AuthorizeWrongKind(t *testing.T) {
	guard := newTestGuard(t, nil)
	_, err := guard.Authorize(context.Background(), &auth.Identity{ID: "alice", Role: auth.RoleInstructor}, ResourceCourse, "s1")
	assert.Equal(t, denial.KindNotFound, denial.KindOf(err))
}

func TestGuard_AuthorizeTeamLookupFailure(t *testing.T) {
	guard := newTestGuard(t, failingTeams{})

	// Owners never reach the directory.
	_, err := guard.Authorize(context.Background(), &auth.Identity{ID: "alice", Role: auth.RoleResearcher}, ResourceSurvey, "s1")
	require.NoError(t, err)

	_, err = guard.Authorize(context.Background(), &auth.Identity{ID: "eve", Role: auth.RoleResearcher}, ResourceSurvey, "s1")
	assert.Equal(t, denial.KindInternal, denial.KindOf(err))
}

func TestGuard_RequireRole(t *testing.T) {
	guard := newTestGuard(t, nil)

	tests := []struct {
		name   string
		role   auth.Role
		action Action
		want   denial.Kind
	}{
		{"researcher creates survey", auth.RoleResearcher, ActionSurveyCreate, ""},
		{"viewer cannot create survey", auth.RoleViewer, ActionSurveyCreate, denial.KindForbidden},
		{"viewer reads survey", auth.RoleViewer, ActionSurveyRead, ""},
		{"analyst views analytics", auth.RoleAnalyst, ActionSurveyAnalytics, ""},
		{"viewer cannot view analytics", auth.RoleViewer, ActionSurveyAnalytics, denial.KindForbidden},
		{"admin passes everything", auth.RoleAdmin, ActionCourseEnroll, ""},
		{"customer subscribes", auth.RoleCustomer, ActionBoxSubscribe, ""},
		{"student cannot create course", auth.RoleStudent, ActionCourseCreate, denial.KindForbidden},
		{"any role reads account", auth.RoleStudent, ActionAccountRead, ""},
		{"researcher cannot deactivate", auth.RoleResearcher, ActionAdminDeactivate, denial.KindForbidden},
		{"unknown action", auth.RoleAdmin, Action("survey.explode"), denial.KindForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.RequireRole(&auth.Identity{ID: "x", Role: tt.role}, tt.action)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, denial.KindOf(err))
		})
	}

	assert.Equal(t, denial.KindUnauthenticated, denial.KindOf(guard.RequireRole(nil, ActionSurveyRead)))
	assert.Equal(t, denial.KindUnauthenticated, denial.KindOf(guard.RequireRole(nil, Action("survey.frobnicate"))))
	assert.Equal(t, denial.KindForbidden, denial.KindOf(guard.RequireRole(&auth.Identity{ID: "x", Role: auth.RoleAdmin}, Action("survey.frobnicate"))))
}

func TestCheckRoles(t *testing.T) {
	researcher := &auth.Identity{ID: "r", Role: auth.RoleResearcher}

	assert.NoError(t, CheckRoles(researcher, auth.RoleResearcher, auth.RoleAnalyst))
	assert.NoError(t, CheckRoles(researcher))
	assert.NoError(t, CheckRoles(&auth.Identity{ID: "a", Role: auth.RoleAdmin}, auth.RoleStudent))
	assert.Equal(t, denial.KindForbidden, denial.KindOf(CheckRoles(researcher, auth.RoleViewer)))
	assert.Equal(t, denial.KindUnauthenticated, denial.KindOf(CheckRoles(nil, auth.RoleViewer)))
}

func TestPolicies(t *testing.T) {
	actions := Actions()
	require.Len(t, actions, len(Policies))
	for i := 1; i < len(actions); i++ {
		assert.Less(t, actions[i-1], actions[i])
	}

	for _, a := range actions {
		p, _ := Lookup(a)
		if p.Ownership {
			assert.NotEmpty(t, p.ResourceKind, "%s requires ownership without a resource", a)
		}
		if p.QuotaPayer == PayerOwner {
			assert.NotEmpty(t, p.ResourceKind, "%s charges the owner without a resource", a)
		}
	}

	submit, ok := Lookup(ActionResponseSubmit)
	require.True(t, ok)
	assert.Equal(t, AuthOptional, submit.Auth)
	assert.True(t, submit.RateLimited)
	assert.False(t, submit.Ownership)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestMemoryResourceStore(t *testing.T) {
	store := NewMemoryResourceStore()
	ctx := context.Background()

	res := &Resource{ID: "c1", Kind: ResourceCourse, OwnerID: "ivy"}
	require.NoError(t, store.Put(ctx, res))
	assert.False(t, res.CreatedAt.IsZero())

	got, err := store.Get(ctx, ResourceCourse, "c1")
	require.NoError(t, err)
	got.OwnerID = "mallory"

	again, err := store.Get(ctx, ResourceCourse, "c1")
	require.NoError(t, err)
	assert.Equal(t, "ivy", again.OwnerID)

	_, err = store.Get(ctx, ResourceSurvey, "c1")
	assert.ErrorIs(t, err, ErrResourceNotFound)

	require.NoError(t, store.Delete(ctx, ResourceCourse, "c1"))
	assert.ErrorIs(t, store.Delete(ctx, ResourceCourse, "c1"), ErrResourceNotFound)
}

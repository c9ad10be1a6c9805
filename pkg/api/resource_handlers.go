package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/denial"
	"github.com/platinummonkey/warden/pkg/guard"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// ResourceHandlers serves surveys, subscription boxes, courses, team
// membership and uploads. Business state is minimal: enough to show the
// guard chain at work.
type ResourceHandlers struct {
	resources  rbac.ResourceStore
	identities auth.IdentityStore
	quota      *quota.Enforcer
	teams      rbac.TeamRegistry
	surveys    *surveyBook
}

// NewResourceHandlers creates resource handlers. teams may be nil.
func NewResourceHandlers(resources rbac.ResourceStore, identities auth.IdentityStore, enforcer *quota.Enforcer, teams rbac.TeamRegistry) *ResourceHandlers {
	return &ResourceHandlers{
		resources:  resources,
		identities: identities,
		quota:      enforcer,
		teams:      teams,
		surveys:    newSurveyBook(),
	}
}

// RegisterRoutes registers resource routes
func (h *ResourceHandlers) RegisterRoutes(router *mux.Router, chain *guard.Chain) {
	byID := middleware.WithResourceVar("id")

	// Survey routes
	router.Handle("/surveys", guarded(chain, rbac.ActionSurveyCreate, h.createSurvey)).Methods(http.MethodPost)
	router.Handle("/surveys/{id}", guarded(chain, rbac.ActionSurveyRead, h.getSurvey, byID)).Methods(http.MethodGet)
	router.Handle("/surveys/{id}", guarded(chain, rbac.ActionSurveyUpdate, h.updateSurvey, byID)).Methods(http.MethodPut)
	router.Handle("/surveys/{id}", guarded(chain, rbac.ActionSurveyDelete, h.deleteSurvey, byID)).Methods(http.MethodDelete)
	router.Handle("/surveys/{id}/publish", guarded(chain, rbac.ActionSurveyPublish, h.publishSurvey, byID)).Methods(http.MethodPost)
	router.Handle("/surveys/{id}/analytics", guarded(chain, rbac.ActionSurveyAnalytics, h.surveyAnalytics, byID)).Methods(http.MethodGet)
	router.Handle("/surveys/{id}/questions", guarded(chain, rbac.ActionSurveyQuestions, h.setQuestions,
		byID, middleware.WithIncrement(questionCount))).Methods(http.MethodPut)
	router.Handle("/surveys/{id}/responses", guarded(chain, rbac.ActionResponseSubmit, h.submitResponse, byID)).Methods(http.MethodPost)

	// Subscription box routes
	router.Handle("/boxes", guarded(chain, rbac.ActionBoxCreate, h.create(rbac.ResourceBoxPlan))).Methods(http.MethodPost)
	router.Handle("/boxes/{id}/subscribe", guarded(chain, rbac.ActionBoxSubscribe, h.acknowledge, byID)).Methods(http.MethodPost)

	// Course routes
	router.Handle("/courses", guarded(chain, rbac.ActionCourseCreate, h.create(rbac.ResourceCourse))).Methods(http.MethodPost)
	router.Handle("/courses/{id}", guarded(chain, rbac.ActionCourseUpdate, h.acknowledge, byID)).Methods(http.MethodPut)
	router.Handle("/courses/{id}/enroll", guarded(chain, rbac.ActionCourseEnroll, h.acknowledge, byID)).Methods(http.MethodPost)

	// Uploads are charged against storage by their declared length
	router.Handle("/uploads", guarded(chain, rbac.ActionFileUpload, h.upload,
		middleware.WithIncrement(func(r *http.Request) int64 { return r.ContentLength }))).Methods(http.MethodPost)

	if h.teams != nil {
		router.Handle("/team/members", guarded(chain, rbac.ActionTeamMemberAdd, h.inviteTeamMember)).Methods(http.MethodPost)
		router.Handle("/team/members/{member_id}", guarded(chain, rbac.ActionTeamMemberRemove, h.removeTeamMember)).Methods(http.MethodDelete)
		router.Handle("/team/invitations/{owner_id}/accept", guarded(chain, rbac.ActionTeamJoin, h.acceptInvitation)).Methods(http.MethodPost)
	}
}

// SurveyResponse pairs a survey's guard record with its content
type SurveyResponse struct {
	Resource *rbac.Resource `json:"resource"`
	Survey
}

type surveyRequest struct {
	Title string `json:"title"`
}

// createSurvey handles POST /surveys
func (h *ResourceHandlers) createSurvey(w http.ResponseWriter, r *http.Request) {
	var req surveyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.put(r, rbac.ResourceSurvey)
	if err != nil {
		httputil.WriteDenial(w, err)
		return
	}

	survey := h.surveys.update(res.ID, func(s *Survey) { s.Title = req.Title })
	httputil.WriteCreated(w, SurveyResponse{Resource: res, Survey: survey})
}

// getSurvey handles GET /surveys/{id}
func (h *ResourceHandlers) getSurvey(w http.ResponseWriter, r *http.Request) {
	res := middleware.ResourceFrom(r.Context())
	httputil.WriteSuccess(w, SurveyResponse{Resource: res, Survey: h.surveys.get(res.ID)})
}

// updateSurvey handles PUT /surveys/{id}
func (h *ResourceHandlers) updateSurvey(w http.ResponseWriter, r *http.Request) {
	var req surveyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res := middleware.ResourceFrom(r.Context())
	survey := h.surveys.update(res.ID, func(s *Survey) { s.Title = req.Title })
	httputil.WriteSuccess(w, SurveyResponse{Resource: res, Survey: survey})
}

// deleteSurvey handles DELETE /surveys/{id}. The owner gets the survey
// slot back.
func (h *ResourceHandlers) deleteSurvey(w http.ResponseWriter, r *http.Request) {
	res := middleware.ResourceFrom(r.Context())

	err := h.resources.Delete(r.Context(), res.Kind, res.ID)
	if errors.Is(err, rbac.ErrResourceNotFound) {
		httputil.WriteDenial(w, denial.NotFound("api.delete_survey", "survey"))
		return
	}
	if err != nil {
		httputil.WriteDenial(w, denial.Internal("api.delete_survey", err))
		return
	}
	h.surveys.delete(res.ID)

	owner, err := h.identities.Get(r.Context(), res.OwnerID)
	if err == nil {
		err = h.quota.Release(r.Context(), owner, quota.KindSurveys, 1)
	}
	if err != nil && !errors.Is(err, auth.ErrIdentityNotFound) {
		httputil.WriteDenial(w, denial.Internal("api.delete_survey", err))
		return
	}

	httputil.WriteNoContent(w)
}

// publishSurvey handles POST /surveys/{id}/publish
func (h *ResourceHandlers) publishSurvey(w http.ResponseWriter, r *http.Request) {
	res := middleware.ResourceFrom(r.Context())
	survey := h.surveys.update(res.ID, func(s *Survey) { s.Published = true })
	httputil.WriteSuccess(w, SurveyResponse{Resource: res, Survey: survey})
}

// surveyAnalytics handles GET /surveys/{id}/analytics
func (h *ResourceHandlers) surveyAnalytics(w http.ResponseWriter, r *http.Request) {
	res := middleware.ResourceFrom(r.Context())
	survey := h.surveys.get(res.ID)
	httputil.WriteSuccess(w, map[string]interface{}{
		"survey_id": res.ID,
		"questions": len(survey.Questions),
		"responses": survey.Responses,
	})
}

type questionsRequest struct {
	Questions []string `json:"questions"`
}

// questionCount reads the question list to size the reservation and puts
// the body back for the handler
func questionCount(r *http.Request) int64 {
	if r.Body == nil {
		return 0
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return 0
	}

	var req questionsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return 0
	}
	return int64(len(req.Questions))
}

// setQuestions handles PUT /surveys/{id}/questions
func (h *ResourceHandlers) setQuestions(w http.ResponseWriter, r *http.Request) {
	var req questionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res := middleware.ResourceFrom(r.Context())
	survey := h.surveys.update(res.ID, func(s *Survey) { s.Questions = req.Questions })
	httputil.WriteSuccess(w, SurveyResponse{Resource: res, Survey: survey})
}

// submitResponse handles POST /surveys/{id}/responses. Anonymous callers
// are allowed; the survey owner's plan pays.
func (h *ResourceHandlers) submitResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers []string `json:"answers"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res := middleware.ResourceFrom(r.Context())
	if !h.surveys.get(res.ID).Published {
		httputil.WriteErrorMessage(w, http.StatusConflict, "survey is not accepting responses")
		return
	}

	survey := h.surveys.update(res.ID, func(s *Survey) { s.Responses++ })
	httputil.WriteCreated(w, map[string]interface{}{
		"survey_id": res.ID,
		"responses": survey.Responses,
	})
}

// create returns a handler that stores a new resource of kind owned by the
// caller
func (h *ResourceHandlers) create(kind rbac.ResourceKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.put(r, kind)
		if err != nil {
			httputil.WriteDenial(w, err)
			return
		}
		httputil.WriteCreated(w, res)
	}
}

// acknowledge answers an allowed action on a loaded resource
func (h *ResourceHandlers) acknowledge(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"resource": middleware.ResourceFrom(r.Context()),
		"action":   middleware.DecisionFrom(r.Context()).Action,
	})
}

// TeamMembership describes one member's place on a team
type TeamMembership struct {
	OwnerID  string `json:"owner_id"`
	MemberID string `json:"member_id"`
	Status   string `json:"status"`
}

// inviteTeamMember handles POST /team/members. The member joins only after
// accepting, and the invitation holds a seat until then.
func (h *ResourceHandlers) inviteTeamMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID string `json:"member_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	owner := middleware.IdentityFrom(ctx)
	if req.MemberID == "" || req.MemberID == owner.ID {
		httputil.WriteDenial(w, denial.InvalidRequest("api.invite_team_member", "member_id must name another identity"))
		return
	}
	if _, err := h.identities.Get(ctx, req.MemberID); err != nil {
		writeTeamError(w, "api.invite_team_member", err)
		return
	}

	created, err := h.teams.Invite(ctx, owner.ID, req.MemberID)
	if err != nil {
		writeTeamError(w, "api.invite_team_member", err)
		return
	}
	if !created {
		status := "invited"
		if current, err := h.teams.TeamOwner(ctx, req.MemberID); err == nil && current == owner.ID {
			status = "member"
		}
		httputil.WriteSuccess(w, TeamMembership{OwnerID: owner.ID, MemberID: req.MemberID, Status: status})
		return
	}

	if err := h.quota.Within(ctx, owner, quota.KindTeamMembers); err != nil {
		if rerr := h.teams.RemoveMember(ctx, owner.ID, req.MemberID); rerr != nil {
			observability.FromContext(ctx).WithError(rerr).Warn("failed to withdraw invitation over the seat limit")
		}
		httputil.WriteDenial(w, err)
		return
	}

	httputil.WriteCreated(w, TeamMembership{OwnerID: owner.ID, MemberID: req.MemberID, Status: "invited"})
}

// acceptInvitation handles POST /team/invitations/{owner_id}/accept
func (h *ResourceHandlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	member := middleware.IdentityFrom(r.Context())
	ownerID := mux.Vars(r)["owner_id"]

	if err := h.teams.Accept(r.Context(), ownerID, member.ID); err != nil {
		writeTeamError(w, "api.accept_invitation", err)
		return
	}
	httputil.WriteSuccess(w, TeamMembership{OwnerID: ownerID, MemberID: member.ID, Status: "member"})
}

// removeTeamMember handles DELETE /team/members/{member_id}. It also
// withdraws a pending invitation.
func (h *ResourceHandlers) removeTeamMember(w http.ResponseWriter, r *http.Request) {
	owner := middleware.IdentityFrom(r.Context())
	memberID := mux.Vars(r)["member_id"]

	if err := h.teams.RemoveMember(r.Context(), owner.ID, memberID); err != nil {
		writeTeamError(w, "api.remove_team_member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeTeamError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, auth.ErrIdentityNotFound):
		httputil.WriteDenial(w, denial.NotFound(op, "identity"))
	case errors.Is(err, rbac.ErrNoInvitation):
		httputil.WriteDenial(w, denial.NotFound(op, "invitation"))
	case errors.Is(err, rbac.ErrNotOnTeam):
		httputil.WriteDenial(w, denial.NotFound(op, "team member"))
	case errors.Is(err, rbac.ErrAlreadyOnTeam):
		httputil.WriteErrorMessage(w, http.StatusConflict, "identity is already on another team")
	default:
		httputil.WriteDenial(w, denial.Internal(op, err))
	}
}

// upload handles POST /uploads. Only the byte count is kept.
func (h *ResourceHandlers) upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength <= 0 {
		httputil.WriteErrorMessage(w, http.StatusLengthRequired, "Content-Length is required")
		return
	}

	n, err := io.Copy(io.Discard, io.LimitReader(r.Body, r.ContentLength))
	if err != nil {
		httputil.WriteDenial(w, denial.InvalidRequest("api.upload", "failed to read upload"))
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{"id": uuid.NewString(), "bytes": n})
}

// put stores a new resource of kind for the calling identity. Members of a
// team create resources on behalf of their team owner.
func (h *ResourceHandlers) put(r *http.Request, kind rbac.ResourceKind) (*rbac.Resource, error) {
	identity := middleware.IdentityFrom(r.Context())
	res := &rbac.Resource{
		ID:          uuid.NewString(),
		Kind:        kind,
		OwnerID:     identity.ID,
		TeamOwnerID: identity.TeamOwnerID,
	}
	if err := h.resources.Put(r.Context(), res); err != nil {
		return nil, denial.Internal("api.create", err)
	}
	return res, nil
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/denial"
	"github.com/platinummonkey/warden/pkg/guard"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// AdminHandlers manages other identities' account state
type AdminHandlers struct {
	accounts *auth.Service
	audit    audit.Logger
}

// NewAdminHandlers creates admin handlers
func NewAdminHandlers(accounts *auth.Service, auditLogger audit.Logger) *AdminHandlers {
	return &AdminHandlers{accounts: accounts, audit: auditLogger}
}

// RegisterRoutes registers admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router, chain *guard.Chain) {
	router.Handle("/admin/identities/{id}/deactivate", guarded(chain, rbac.ActionAdminDeactivate, h.deactivate)).Methods(http.MethodPost)
	router.Handle("/admin/identities/{id}/reactivate", guarded(chain, rbac.ActionAdminDeactivate, h.reactivate)).Methods(http.MethodPost)
	router.Handle("/admin/identities/{id}/plan", guarded(chain, rbac.ActionAdminPlan, h.changePlan)).Methods(http.MethodPut)
}

// deactivate handles POST /admin/identities/{id}/deactivate
func (h *AdminHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// reactivate handles POST /admin/identities/{id}/reactivate
func (h *AdminHandlers) reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *AdminHandlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := httputil.PathString(r, "id")
	if err != nil {
		httputil.WriteDenial(w, err)
		return
	}

	eventType := audit.EventTypeAdminDeactivate
	change := h.accounts.Deactivate
	if active {
		eventType = audit.EventTypeAdminReactivate
		change = h.accounts.Reactivate
	}

	err = change(r.Context(), id)
	h.logAdmin(r, eventType, id, nil, err)
	if err != nil {
		httputil.WriteDenial(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// changePlan handles PUT /admin/identities/{id}/plan
func (h *AdminHandlers) changePlan(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathString(r, "id")
	if err != nil {
		httputil.WriteDenial(w, err)
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	plan, ok := quota.ParsePlanTier(req.Plan)
	if !ok {
		httputil.WriteDenial(w, denial.InvalidRequest("api.change_plan", "unknown plan"))
		return
	}

	err = h.accounts.ChangePlan(r.Context(), id, plan)
	h.logAdmin(r, audit.EventTypeAdminPlanChange, id, map[string]interface{}{"plan": plan}, err)
	if err != nil {
		httputil.WriteDenial(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"id": id, "plan": plan})
}

func (h *AdminHandlers) logAdmin(r *http.Request, eventType audit.EventType, targetID string, metadata map[string]interface{}, err error) {
	status := audit.EventStatusSuccess
	if err != nil {
		status = audit.EventStatusFailure
	}

	event := audit.NewEvent(r.Context(), eventType, status)
	if admin := middleware.IdentityFrom(r.Context()); admin != nil {
		event.IdentityID = admin.ID
		event.Role = string(admin.Role)
	}
	event.ResourceKind = "identity"
	event.ResourceID = targetID
	event.IPAddress = middleware.ClientIPFrom(r)
	event.Metadata = metadata
	if err != nil {
		event.DenialKind = string(denial.KindOf(err))
	}
	_ = h.audit.Log(r.Context(), event)
}

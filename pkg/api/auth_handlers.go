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

// AuthHandlers handles registration, login and the caller's own account
type AuthHandlers struct {
	accounts *auth.Service
	quota    *quota.Enforcer
	audit    audit.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(accounts *auth.Service, enforcer *quota.Enforcer, auditLogger audit.Logger) *AuthHandlers {
	return &AuthHandlers{accounts: accounts, quota: enforcer, audit: auditLogger}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, chain *guard.Chain) {
	router.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	router.Handle("/me", guarded(chain, rbac.ActionAccountRead, h.me)).Methods(http.MethodGet)
}

// AccountResponse is the body of GET /me
type AccountResponse struct {
	Identity *auth.Identity `json:"identity"`
	Usage    []quota.Status `json:"usage"`
}

// register handles POST /auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.logAuth(r, audit.EventTypeAuthRegister, audit.EventStatusFailure, nil, err)
		httputil.WriteDenial(w, err)
		return
	}

	h.logAuth(r, audit.EventTypeAuthRegister, audit.EventStatusSuccess, session.Identity, nil)
	httputil.WriteCreated(w, session)
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logAuth(r, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure, nil, err)
		httputil.WriteDenial(w, err)
		return
	}

	h.logAuth(r, audit.EventTypeAuthLogin, audit.EventStatusSuccess, session.Identity, nil)
	httputil.WriteSuccess(w, session)
}

// me handles GET /me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())

	report, err := h.quota.Report(r.Context(), identity)
	if err != nil {
		httputil.WriteDenial(w, denial.Internal("api.me", err))
		return
	}

	httputil.WriteSuccess(w, AccountResponse{Identity: identity.Sanitized(), Usage: report})
}

func (h *AuthHandlers) logAuth(r *http.Request, eventType audit.EventType, status audit.EventStatus, identity *auth.Identity, err error) {
	event := audit.NewEvent(r.Context(), eventType, status)
	event.IPAddress = middleware.ClientIPFrom(r)
	if identity != nil {
		event.IdentityID = identity.ID
		event.Role = string(identity.Role)
	}
	if err != nil {
		event.DenialKind = string(denial.KindOf(err))
		event.Message = denial.PublicMessage(err)
	}
	_ = h.audit.Log(r.Context(), event)
}

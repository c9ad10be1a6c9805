package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/guard"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Dependencies wires a Server. Accounts, Chain, Identities, Resources and
// Quota are required.
type Dependencies struct {
	Accounts   *auth.Service
	Chain      *guard.Chain
	Identities auth.IdentityStore
	Resources  rbac.ResourceStore
	Quota      *quota.Enforcer
	// Teams handles invitations and memberships. Nil disables the team
	// routes; otherwise it also counts team seats for Quota.
	Teams   rbac.TeamRegistry
	Audit   audit.Logger
	Logger  *observability.Logger
	Metrics *observability.Metrics
	// TrustedProxies are the addresses and CIDR ranges allowed to set
	// X-Forwarded-For. Empty means the connection address is used.
	TrustedProxies []string
}

// Server is the demo HTTP API. Every route except registration and login
// runs behind the guard chain.
type Server struct {
	router  *mux.Router
	deps    Dependencies
	proxies middleware.TrustedProxies

	authHandlers     *AuthHandlers
	resourceHandlers *ResourceHandlers
	adminHandlers    *AdminHandlers
}

// NewServer creates a server and registers its routes
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Accounts == nil || deps.Chain == nil || deps.Identities == nil {
		return nil, errors.New("api: accounts, chain and identities are required")
	}
	if deps.Resources == nil || deps.Quota == nil {
		return nil, errors.New("api: resources and quota are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NoOp()
	}
	if deps.Logger == nil {
		deps.Logger = observability.Discard()
	}

	proxies, err := middleware.ParseTrustedProxies(deps.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	if deps.Teams != nil {
		deps.Quota.CountWith(quota.KindTeamMembers, deps.Teams.Seats)
	}

	s := &Server{
		router:           mux.NewRouter(),
		deps:             deps,
		proxies:          proxies,
		authHandlers:     NewAuthHandlers(deps.Accounts, deps.Quota, deps.Audit),
		resourceHandlers: NewResourceHandlers(deps.Resources, deps.Identities, deps.Quota, deps.Teams),
		adminHandlers:    NewAdminHandlers(deps.Accounts, deps.Audit),
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.ClientIP(s.proxies), middleware.Logging(s.deps.Logger, s.deps.Metrics))

	s.authHandlers.RegisterRoutes(s.router, s.deps.Chain)
	s.resourceHandlers.RegisterRoutes(s.router, s.deps.Chain)
	s.adminHandlers.RegisterRoutes(s.router, s.deps.Chain)
}

// Router exposes the router so callers can mount health and metrics
// endpoints next to the API
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// guarded wraps handler in the guard chain for action
func guarded(chain *guard.Chain, action rbac.Action, handler http.HandlerFunc, opts ...middleware.ActionOption) http.Handler {
	return middleware.RequireAction(chain, action, opts...)(handler)
}

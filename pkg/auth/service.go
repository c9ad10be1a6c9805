package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/denial"
	"github.com/platinummonkey/warden/pkg/quota"
)

// RegisterInput is a self-service signup request.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	Realm    Realm  `json:"realm,omitempty"`
}

// Session is an issued bearer token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  *Identity `json:"identity"`
}

// Service handles registration, login and account state.
type Service struct {
	store  IdentityStore
	issuer *TokenIssuer
}

// NewService creates an account service.
func NewService(store IdentityStore, issuer *TokenIssuer) *Service {
	return &Service{store: store, issuer: issuer}
}

// Register creates an active identity on the free plan and signs a token
// for it. Admin accounts cannot be self-registered.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, denial.InvalidRequest("auth.register", "a valid email is required")
	}

	realm := in.Realm
	if realm == "" {
		realm = RealmSurvey
	}
	if len(realm.Roles()) == 0 {
		return nil, denial.InvalidRequest("auth.register", "unknown realm")
	}

	role := realm.DefaultRole()
	if in.Role != "" {
		parsed, err := ParseRole(in.Role)
		if err != nil {
			return nil, denial.InvalidRequest("auth.register", err.Error())
		}
		role = parsed
	}
	if role == RoleAdmin {
		return nil, denial.Forbidden("auth.register", "admin accounts cannot be self-registered")
	}
	if !realm.Allows(role) {
		return nil, denial.InvalidRequest("auth.register", "role is not available in this realm")
	}

	hash, err := HashCredential(in.Password)
	if errors.Is(err, ErrCredentialTooShort) {
		return nil, denial.InvalidRequest("auth.register", err.Error())
	}
	if err != nil {
		return nil, denial.Internal("auth.register", err)
	}

	identity := &Identity{
		ID:             uuid.New().String(),
		Email:          email,
		CredentialHash: hash,
		Role:           role,
		IsActive:       true,
		Plan:           quota.PlanFree,
	}
	if err := s.store.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, denial.InvalidRequest("auth.register", "email already registered")
		}
		return nil, denial.Internal("auth.register", err)
	}

	return s.session(identity)
}

// Login checks a password and signs a token. Unknown emails and wrong
// passwords produce the same refusal.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	identity, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, denial.New(denial.KindUnauthenticated, "auth.login", "invalid credentials")
	}
	if err != nil {
		return nil, denial.Internal("auth.login", err)
	}

	ok, err := CheckCredential(identity.CredentialHash, password)
	if err != nil {
		return nil, denial.Internal("auth.login", err)
	}
	if !ok {
		return nil, denial.New(denial.KindUnauthenticated, "auth.login", "invalid credentials")
	}
	if !identity.IsActive {
		return nil, denial.AccountDeactivated("auth.login")
	}

	return s.session(identity)
}

// Deactivate disables an identity. Its tokens stop verifying immediately.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

// Reactivate re-enables a deactivated identity.
func (s *Service) Reactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

// ChangePlan moves an identity to another plan tier.
func (s *Service) ChangePlan(ctx context.Context, id string, plan quota.PlanTier) error {
	if !plan.Known() {
		return denial.InvalidRequest("auth.change_plan", "unknown plan")
	}
	err := s.store.SetPlan(ctx, id, plan)
	if errors.Is(err, ErrIdentityNotFound) {
		return denial.NotFound("auth.change_plan", "identity")
	}
	if err != nil {
		return denial.Internal("auth.change_plan", err)
	}
	return nil
}

func (s *Service) setActive(ctx context.Context, id string, active bool) error {
	err := s.store.SetActive(ctx, id, active)
	if errors.Is(err, ErrIdentityNotFound) {
		return denial.NotFound("auth.set_active", "identity")
	}
	if err != nil {
		return denial.Internal("auth.set_active", err)
	}
	return nil
}

func (s *Service) session(identity *Identity) (*Session, error) {
	token, expiresAt, err := s.issuer.Issue(identity)
	if err != nil {
		return nil, denial.Internal("auth.session", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, Identity: identity.Sanitized()}, nil
}

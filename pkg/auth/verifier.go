package auth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/warden/pkg/denial"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Verifier turns a bearer credential into an active Identity.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
	store    IdentityStore
}

// VerifierOption configures a Verifier.
type VerifierOption func(*oidc.Config)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(c *oidc.Config) {
		c.Now = now
	}
}

// NewVerifier creates a verifier for RS256 tokens signed by the key paired
// with pub and carrying the given issuer and audience.
func NewVerifier(pub *rsa.PublicKey, issuer, audience string, store IdentityStore, opts ...VerifierOption) *Verifier {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{pub}}
	cfg := &oidc.Config{
		ClientID:             audience,
		SupportedSigningAlgs: []string{oidc.RS256},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Verifier{
		verifier: oidc.NewVerifier(issuer, keySet, cfg),
		store:    store,
	}
}

// Verify resolves credential to an active identity.
//
// With required set, a missing credential is Unauthenticated, a credential
// that fails verification or names an unknown identity is InvalidToken, and
// an inactive identity is AccountDeactivated. Without required, every one
// of those outcomes yields (nil, nil) so anonymous access can continue.
// The returned identity never carries its credential hash.
func (v *Verifier) Verify(ctx context.Context, credential string, required bool) (*Identity, error) {
	identity, err := v.verify(ctx, credential)
	if err == nil {
		return identity, nil
	}
	if required {
		return nil, err
	}

	log := observability.FromContext(ctx).WithError(err)
	if denial.KindOf(err) == denial.KindInternal {
		log.Warn("Optional authentication failed on identity lookup")
	} else {
		log.Debug("Optional authentication skipped")
	}
	return nil, nil
}

func (v *Verifier) verify(ctx context.Context, credential string) (*Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, denial.Unauthenticated("auth.verify")
	}

	token, err := v.verifier.Verify(ctx, credential)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			d := denial.InvalidToken("auth.verify", err)
			d.Message = "token has expired"
			return nil, d
		}
		return nil, denial.InvalidToken("auth.verify", err)
	}

	identity, err := v.store.Get(ctx, token.Subject)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, denial.InvalidToken("auth.verify", err)
	}
	if err != nil {
		return nil, denial.Internal("auth.verify", err)
	}

	if !identity.IsActive {
		return nil, denial.AccountDeactivated("auth.verify")
	}

	return identity.Sanitized(), nil
}

// ExtractBearer returns the token from an Authorization header value of
// the form "Bearer <token>". Any other form yields "".
func ExtractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

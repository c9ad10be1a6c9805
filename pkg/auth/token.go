package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

// TokenIssuer signs RS256 bearer tokens whose subject is an identity ID.
type TokenIssuer struct {
	signer   jose.Signer
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates an issuer signing with key.
func NewTokenIssuer(key *rsa.PrivateKey, issuer, audience string, ttl time.Duration) (*TokenIssuer, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return &TokenIssuer{
		signer:   signer,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// roleClaim is informational; authorization always reads the role from
// the identity store.
type roleClaim struct {
	Role Role `json:"role,omitempty"`
}

// Issue signs a token for identity and returns it with its expiry.
func (t *TokenIssuer) Issue(identity *Identity) (string, time.Time, error) {
	if identity == nil || identity.ID == "" {
		return "", time.Time{}, fmt.Errorf("identity is required")
	}

	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := jwt.Claims{
		Issuer:    t.issuer,
		Subject:   identity.ID,
		Audience:  jwt.Audience{t.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(expiresAt),
		ID:        uuid.New().String(),
	}

	raw, err := jwt.Signed(t.signer).Claims(claims).Claims(roleClaim{Role: identity.Role}).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return raw, expiresAt, nil
}

package auth

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/denial"
	"github.com/platinummonkey/warden/pkg/quota"
)

const (
	testIssuer   = "warden-test"
	testAudience = "warden-api"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	altKey  *rsa.PrivateKey
)

func signingKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = GenerateSigningKey()
		require.NoError(t, err)
		altKey, err = GenerateSigningKey()
		require.NoError(t, err)
	})
	return testKey, altKey
}

type tokenFixture struct {
	store    *MemoryIdentityStore
	issuer   *TokenIssuer
	verifier *Verifier
	active   *Identity
	inactive *Identity
}

func newTokenFixture(t *testing.T, opts ...VerifierOption) *tokenFixture {
	t.Helper()
	key, _ := signingKeys(t)

	store := NewMemoryIdentityStore()
	active := &Identity{ID: "id-active", Email: "active@example.com", CredentialHash: "hash", Role: RoleResearcher, IsActive: true, Plan: quota.PlanFree}
	inactive := &Identity{ID: "id-inactive", Email: "inactive@example.com", Role: RoleViewer, IsActive: false, Plan: quota.PlanFree}
	require.NoError(t, store.Create(context.Background(), active))
	require.NoError(t, store.Create(context.Background(), inactive))

	issuer, err := NewTokenIssuer(key, testIssuer, testAudience, time.Hour)
	require.NoError(t, err)

	return &tokenFixture{
		store:    store,
		issuer:   issuer,
		verifier: NewVerifier(&key.PublicKey, testIssuer, testAudience, store, opts...),
		active:   active,
		inactive: inactive,
	}
}

func TestVerify_ValidToken(t *testing.T) {
	f := newTokenFixture(t)

	token, expiresAt, err := f.issuer.Issue(f.active)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	identity, err := f.verifier.Verify(context.Background(), token, true)
	require.NoError(t, err)
	assert.Equal(t, "id-active", identity.ID)
	assert.Equal(t, RoleResearcher, identity.Role)
	assert.Empty(t, identity.CredentialHash)
}

func TestVerify_MissingCredential(t *testing.T) {
	f := newTokenFixture(t)

	_, err := f.verifier.Verify(context.Background(), "", true)
	assert.Equal(t, denial.KindUnauthenticated, denial.KindOf(err))
	assert.Equal(t, "no token provided", denial.PublicMessage(err))
}

func TestVerify_InvalidTokens(t *testing.T) {
	f := newTokenFixture(t)
	_, other := signingKeys(t)

	foreignIssuer, err := NewTokenIssuer(other, testIssuer, testAudience, time.Hour)
	require.NoError(t, err)
	forged, _, err := foreignIssuer.Issue(f.active)
	require.NoError(t, err)

	key, _ := signingKeys(t)
	wrongAud, err := NewTokenIssuer(key, testIssuer, "someone-else", time.Hour)
	require.NoError(t, err)
	wrongAudToken, _, err := wrongAud.Issue(f.active)
	require.NoError(t, err)

	wrongIss, err := NewTokenIssuer(key, "impostor", testAudience, time.Hour)
	require.NoError(t, err)
	wrongIssToken, _, err := wrongIss.Issue(f.active)
	require.NoError(t, err)

	orphan, _, err := f.issuer.Issue(&Identity{ID: "does-not-exist", Role: RoleViewer})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong signing key", forged},
		{"wrong audience", wrongAudToken},
		{"wrong issuer", wrongIssToken},
		{"unknown identity", orphan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.verifier.Verify(context.Background(), tt.token, true)
			assert.Equal(t, denial.KindInvalidToken, denial.KindOf(err))
			assert.Equal(t, "token is not valid", denial.PublicMessage(err))
		})
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	later := func() time.Time { return time.Now().Add(2 * time.Hour) }
	f := newTokenFixture(t, WithClock(later))

	token, _, err := f.issuer.Issue(f.active)
	require.NoError(t, err)

	_, err = f.verifier.Verify(context.Background(), token, true)
	assert.Equal(t, denial.KindInvalidToken, denial.KindOf(err))
	assert.Equal(t, "token has expired", denial.PublicMessage(err))
}

func TestVerify_DeactivatedIdentityAlwaysRejected(t *testing.T) {
	f := newTokenFixture(t)

	token, _, err := f.issuer.Issue(f.inactive)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.verifier.Verify(context.Background(), token, true)
		assert.Equal(t, denial.KindAccountDeactivated, denial.KindOf(err))
	}

	// Deactivating an identity revokes tokens it already holds.
	activeToken, _, err := f.issuer.Issue(f.active)
	require.NoError(t, err)
	require.NoError(t, f.store.SetActive(context.Background(), f.active.ID, false))

	_, err = f.verifier.Verify(context.Background(), activeToken, true)
	assert.Equal(t, denial.KindAccountDeactivated, denial.KindOf(err))
}

func TestVerify_OptionalSwallowsFailures(t *testing.T) {
	f := newTokenFixture(t)

	inactiveToken, _, err := f.issuer.Issue(f.inactive)
	require.NoError(t, err)

	for _, credential := range []string{"", "garbage", inactiveToken} {
		identity, err := f.verifier.Verify(context.Background(), credential, false)
		assert.NoError(t, err)
		assert.Nil(t, identity)
	}

	token, _, err := f.issuer.Issue(f.active)
	require.NoError(t, err)
	identity, err := f.verifier.Verify(context.Background(), token, false)
	require.NoError(t, err)
	assert.Equal(t, f.active.ID, identity.ID)
}

func TestNewTokenIssuer_RequiresKey(t *testing.T) {
	_, err := NewTokenIssuer(nil, testIssuer, testAudience, time.Hour)
	assert.Error(t, err)
}

func TestTokenIssuer_RequiresIdentity(t *testing.T) {
	f := newTokenFixture(t)
	_, _, err := f.issuer.Issue(nil)
	assert.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractBearer(tt.header), "header %q", tt.header)
	}
}

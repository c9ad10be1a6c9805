package denial

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindInvalidToken, http.StatusUnauthorized},
		{KindAccountDeactivated, http.StatusForbidden},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindQuotaExceeded, http.StatusForbidden},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindInvalidRequest, http.StatusBadRequest},
		{KindInternal, http.StatusInternalServerError},
		{Kind("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindForbidden, KindOf(Forbidden("op", "")))

	wrapped := fmt.Errorf("handler: %w", RateLimited("limiter.check", time.Hour))
	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindRateLimited))
	assert.False(t, Is(nil, KindRateLimited))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("guard.authorize", "survey"))

	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindForbidden}))
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound, Op: "guard.authorize"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound, Op: "other"}))
}

func TestPublicMessage_HidesCause(t *testing.T) {
	cause := errors.New("square/go-jose: error in cryptographic primitive")
	err := InvalidToken("auth.verify", cause)

	assert.Equal(t, "token is not valid", PublicMessage(err))
	assert.Contains(t, err.Error(), "cryptographic primitive")
	assert.ErrorIs(t, err, cause)

	internal := Internal("store.get", errors.New("pq: connection refused on 10.0.0.3"))
	assert.Equal(t, "internal server error", PublicMessage(internal))
	assert.Equal(t, "internal server error", PublicMessage(errors.New("raw")))
}

func TestQuotaExceeded_CarriesDetail(t *testing.T) {
	err := QuotaExceeded("quota.reserve", QuotaDetail{Kind: "surveys", Plan: "free", Current: 5, Limit: 5, Requested: 1})

	d, ok := As(err)
	require.True(t, ok)
	require.NotNil(t, d.Quota)
	assert.Equal(t, int64(5), d.Quota.Current)
	assert.Equal(t, int64(5), d.Quota.Limit)
	assert.Equal(t, "plan limit reached for surveys", PublicMessage(err))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(d.Kind))
}

func TestNotFound_Message(t *testing.T) {
	assert.Equal(t, "survey not found", PublicMessage(NotFound("op", "survey")))
	assert.Equal(t, "resource not found", PublicMessage(NotFound("op", "")))
}

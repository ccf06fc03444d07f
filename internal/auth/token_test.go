// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		Secret:   testSecret,
		Issuer:   "classd-test",
		Audience: "classd",
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return v
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, ExtractToken(r))
	r.Header.Set("Authorization", "bearer  abc ")
	assert.Equal(t, "abc", ExtractToken(r))
	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractToken(r))
	assert.Empty(t, ExtractToken(nil))
}

func TestNewVerifierRejectsShortSecret(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{Secret: []byte("short")})
	require.Error(t, err)
}

func TestVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, now)

	tok, err := v.Issue("instructor-7", []string{ScopeRead, ScopeWrite}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "instructor-7", p.Subject)
	assert.True(t, p.HasScope(ScopeWrite))
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier(t, now)

	expired, err := newTestVerifier(t, now.Add(-2*time.Hour)).Issue("s", nil, time.Hour)
	require.NoError(t, err)

	other, err := NewVerifier(VerifierConfig{Secret: []byte("another-secret-another-secret-!!"), Issuer: "classd-test", Audience: "classd", Now: func() time.Time { return now }})
	require.NoError(t, err)
	wrongKey, err := other.Issue("s", nil, time.Hour)
	require.NoError(t, err)

	noSub, err := v.Issue("", nil, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "s",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":      "",
		"garbage":    "not.a.jwt",
		"expired":    expired,
		"wrong key":  wrongKey,
		"no subject": noSub,
		"alg none":   none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			require.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestAuthorizers(t *testing.T) {
	ctx := context.Background()
	reader := &Principal{Subject: "r", Scopes: []string{ScopeRead}}
	writer := &Principal{Subject: "w", Scopes: []string{ScopeWrite}}

	require.NoError(t, AllowAll{}.Authorize(ctx, reader, ActionClose, "c1"))
	require.ErrorIs(t, AllowAll{}.Authorize(ctx, nil, ActionRead, ""), ErrUnauthenticated)

	var s ScopeAuthorizer
	require.NoError(t, s.Authorize(ctx, reader, ActionRead, "c1"))
	require.ErrorIs(t, s.Authorize(ctx, reader, ActionCreate, ""), ErrForbidden)
	require.NoError(t, s.Authorize(ctx, writer, ActionRead, "c1"))
	require.NoError(t, s.Authorize(ctx, writer, ActionClose, "c1"))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)
	ctx := ContextWithPrincipal(context.Background(), &Principal{Subject: "x"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "x", p.Subject)
}

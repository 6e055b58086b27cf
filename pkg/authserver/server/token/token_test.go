// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testIssuer   = "https://broker.example.com"
	testAudience = "tableau-mcp"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestIssuer(t *testing.T, mutate func(*Config)) *Issuer {
	t.Helper()
	cfg := Config{
		Secret:   []byte(testSecret),
		Issuer:   testIssuer,
		Audience: testAudience,
		Now:      func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	i, err := NewIssuer(cfg)
	require.NoError(t, err)
	return i
}

func testTokens(expiresIn time.Duration) storage.UpstreamTokens {
	return storage.UpstreamTokens{
		AccessToken:  "upstream-access",
		RefreshToken: "upstream-refresh",
		ExpiresIn:    expiresIn,
	}
}

var testUser = storage.User{ID: "user-1", Name: "Ada"}

func TestNewIssuer_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "short secret", cfg: Config{Secret: []byte("short"), Issuer: testIssuer, Audience: testAudience}, wantErr: "at least 32 bytes"},
		{name: "missing issuer", cfg: Config{Secret: []byte(testSecret), Audience: testAudience}, wantErr: "issuer is required"},
		{name: "missing audience", cfg: Config{Secret: []byte(testSecret), Issuer: testIssuer}, wantErr: "audience is required"},
		{name: "negative margin", cfg: Config{Secret: []byte(testSecret), Issuer: testIssuer, Audience: testAudience, ExpiryMargin: -time.Second}, wantErr: "margin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewIssuer(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIssue_ClaimsAndExpiry(t *testing.T) {
	t.Parallel()
	i := newTestIssuer(t, nil)

	issued, err := i.Issue(testTokens(2*time.Hour), testUser, "tableau-mcp-client", "tableau:content:read")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, issued.ExpiresIn)
	assert.Equal(t, testNow.Add(90*time.Minute), issued.ExpiresAt)

	claims, err := i.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "upstream-access", claims.UpstreamAccessToken)
	assert.Equal(t, "upstream-refresh", claims.UpstreamRefreshToken)
	assert.Equal(t, "tableau-mcp-client", claims.ClientID)
	assert.Equal(t, "tableau:content:read", claims.Scope)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{testAudience}, claims.Audience)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.ExpiresAt.Before(testNow.Add(2*time.Hour)),
		"credential must expire before the upstream access token")
}

func TestIssue_UniqueJTI(t *testing.T) {
	t.Parallel()
	i := newTestIssuer(t, nil)

	a, err := i.Issue(testTokens(2*time.Hour), testUser, "", "")
	require.NoError(t, err)
	b, err := i.Issue(testTokens(2*time.Hour), testUser, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestLifetime(t *testing.T) {
	t.Parallel()
	i := newTestIssuer(t, func(c *Config) { c.MaxLifetime = 4 * time.Hour })

	tests := []struct {
		name   string
		tokens storage.UpstreamTokens
		want   time.Duration
	}{
		{name: "margin applied", tokens: testTokens(2 * time.Hour), want: 90 * time.Minute},
		{name: "capped by max", tokens: testTokens(24 * time.Hour), want: 4 * time.Hour},
		{name: "shorter than margin", tokens: testTokens(10 * time.Minute), want: -20 * time.Minute},
		{name: "unknown lifetime uses max", tokens: storage.UpstreamTokens{AccessToken: "a"}, want: 4 * time.Hour},
		{
			name:   "absolute expiry preferred",
			tokens: storage.UpstreamTokens{AccessToken: "a", ExpiresIn: 10 * time.Hour, ExpiresAt: testNow.Add(time.Hour)},
			want:   30 * time.Minute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, i.Lifetime(tt.tokens, testNow))
		})
	}
}

func TestIssue_Errors(t *testing.T) {
	t.Parallel()
	i := newTestIssuer(t, nil)

	_, err := i.Issue(testTokens(20*time.Minute), testUser, "", "")
	assert.ErrorIs(t, err, ErrUpstreamExpired)

	_, err = i.Issue(testTokens(time.Hour), storage.User{}, "", "")
	assert.ErrorContains(t, err, "user id")

	_, err = i.Issue(storage.UpstreamTokens{ExpiresIn: time.Hour}, testUser, "", "")
	assert.ErrorContains(t, err, "upstream access token")
}

func TestVerify_Rejections(t *testing.T) {
	t.Parallel()
	i := newTestIssuer(t, nil)

	issued, err := i.Issue(testTokens(2*time.Hour), testUser, "", "")
	require.NoError(t, err)

	otherSecret := newTestIssuer(t, func(c *Config) { c.Secret = []byte("ffffffffffffffffffffffffffffffff") })
	otherAudience := newTestIssuer(t, func(c *Config) { c.Audience = "another-resource" })
	otherIssuer := newTestIssuer(t, func(c *Config) { c.Issuer = "https://evil.example.com" })
	later := newTestIssuer(t, func(c *Config) { c.Now = func() time.Time { return issued.ExpiresAt } })

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	claims := jwt.MapClaims{
		"sub": "user-1", "iss": testIssuer, "aud": testAudience,
		"exp": testNow.Add(time.Hour).Unix(), "upstream_access_token": "x",
	}
	rsSigned, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(rsaKey)
	require.NoError(t, err)
	noneSigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExp := jwt.MapClaims{"sub": "user-1", "iss": testIssuer, "aud": testAudience, "upstream_access_token": "x"}
	noExpSigned, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noExp).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noUpstream := jwt.MapClaims{"sub": "user-1", "iss": testIssuer, "aud": testAudience, "exp": testNow.Add(time.Hour).Unix()}
	noUpstreamSigned, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noUpstream).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier *Issuer
		token    string
	}{
		{name: "different secret", verifier: otherSecret, token: issued.Token},
		{name: "wrong audience", verifier: otherAudience, token: issued.Token},
		{name: "wrong issuer", verifier: otherIssuer, token: issued.Token},
		{name: "expired at exp", verifier: later, token: issued.Token},
		{name: "malformed", verifier: i, token: "not-a-jwt"},
		{name: "empty", verifier: i, token: ""},
		{name: "rs256 rejected", verifier: i, token: rsSigned},
		{name: "none rejected", verifier: i, token: noneSigned},
		{name: "hs512 rejected", verifier: i, token: hs512},
		{name: "missing exp", verifier: i, token: noExpSigned},
		{name: "missing upstream token", verifier: i, token: noUpstreamSigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			claims, err := tt.verifier.Verify(tt.token)
			assert.Nil(t, claims)
			assert.Equal(t, ErrInvalidToken, err)
		})
	}
}

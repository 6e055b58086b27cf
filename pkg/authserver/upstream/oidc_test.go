// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDiscoveryServer serves an OIDC discovery document and a userinfo endpoint.
func newDiscoveryServer(t *testing.T, userinfo string) *httptest.Server {
	t.Helper()

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                srv.URL,
			"authorization_endpoint":                srv.URL + "/authorize",
			"token_endpoint":                        srv.URL + "/token",
			"userinfo_endpoint":                     srv.URL + "/userinfo",
			"jwks_uri":                              srv.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userinfo))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func oidcConfig(issuer string) *Config {
	return &Config{
		Type:        ProviderTypeOIDC,
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
		Issuer:      issuer,
	}
}

func TestNewOIDCProvider_Discovery(t *testing.T) {
	t.Parallel()
	srv := newDiscoveryServer(t, `{}`)

	p, err := NewOIDCProvider(context.Background(), oidcConfig(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, ProviderTypeOIDC, p.Type())

	raw, err := p.AuthorizationURL("key:nonce", "challenge")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "openid profile email", u.Query().Get("scope"))
}

func TestNewOIDCProvider_DiscoveryFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOIDCProvider(context.Background(), oidcConfig(srv.URL),
		WithHTTPClient(srv.Client()), WithDiscoveryMaxTries(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC discovery")
}

func TestNewOIDCProvider_WrongType(t *testing.T) {
	t.Parallel()

	cfg := oidcConfig("https://idp.example.com")
	cfg.Type = ProviderTypeOAuth2
	_, err := NewOIDCProvider(context.Background(), cfg)
	assert.ErrorContains(t, err, "config.Type must be")
}

func TestOIDCProvider_ResolveIdentity_UserInfo(t *testing.T) {
	t.Parallel()
	srv := newDiscoveryServer(t, `{"sub":"oidc-user","name":"Lin","email":"lin@example.com"}`)

	p, err := NewOIDCProvider(context.Background(), oidcConfig(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	user, err := p.ResolveIdentity(context.Background(), &Tokens{AccessToken: "upstream-access"})
	require.NoError(t, err)
	assert.Equal(t, &UserInfo{Subject: "oidc-user", Name: "Lin", Email: "lin@example.com"}, user)

	_, err = p.ResolveIdentity(context.Background(), &Tokens{AccessToken: "wrong"})
	assert.ErrorContains(t, err, "userinfo request failed")
}

func TestOIDCProvider_ResolveIdentity_IDToken(t *testing.T) {
	t.Parallel()
	srv := newDiscoveryServer(t, `{}`)

	p, err := NewOIDCProvider(context.Background(), oidcConfig(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p.verifier = oidc.NewVerifier(srv.URL,
		&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
		&oidc.Config{ClientID: testClientID})

	sign := func(claims jwt.MapClaims) string {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return signed
	}
	now := time.Now()

	idToken := sign(jwt.MapClaims{
		"iss":   srv.URL,
		"aud":   testClientID,
		"sub":   "id-token-user",
		"name":  "Noor",
		"email": "noor@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	user, err := p.ResolveIdentity(context.Background(), &Tokens{AccessToken: "upstream-access", IDToken: idToken})
	require.NoError(t, err)
	assert.Equal(t, &UserInfo{Subject: "id-token-user", Name: "Noor", Email: "noor@example.com"}, user)

	wrongAudience := sign(jwt.MapClaims{
		"iss": srv.URL,
		"aud": "someone-else",
		"sub": "id-token-user",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	_, err = p.ResolveIdentity(context.Background(), &Tokens{AccessToken: "upstream-access", IDToken: wrongAudience})
	assert.ErrorContains(t, err, "invalid upstream ID token")
}

func TestOIDCProvider_ResolveIdentity_ExplicitUserInfoWins(t *testing.T) {
	t.Parallel()
	srv := newDiscoveryServer(t, `{"sub":"discovered"}`)
	f := newFakeIDP(t)
	f.userinfoBody = `{"account":{"id":"configured"}}`

	cfg := oidcConfig(srv.URL)
	cfg.UserInfo = &UserInfoConfig{
		EndpointURL:  f.server.URL + "/api/me",
		FieldMapping: &UserInfoFieldMapping{SubjectField: "account.id"},
	}
	p, err := NewOIDCProvider(context.Background(), cfg, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	user, err := p.ResolveIdentity(context.Background(), &Tokens{AccessToken: "upstream-access", IDToken: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "configured", user.Subject)
}

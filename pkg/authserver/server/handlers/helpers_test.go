// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tableau-broker/pkg/authserver/server"
	servercrypto "github.com/stacklok/tableau-broker/pkg/authserver/server/crypto"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/token"
	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
	"github.com/stacklok/tableau-broker/pkg/authserver/upstream"
	"github.com/stacklok/tableau-broker/pkg/authserver/upstream/mocks"
	"github.com/stacklok/tableau-broker/pkg/oauth"
)

const (
	testIssuer        = "https://broker.example.com"
	testClientID      = "tableau-mcp-client"
	testRedirectURI   = "https://localhost/cb"
	testBaselineScope = "tableau:content:read"
	testSecret        = "0123456789abcdef0123456789abcdef"
	testUpstreamURL   = "https://idp.example.com/oauth2/authorize"
	testUpstreamCode  = "upstream-code"
)

// testClock is a settable clock shared by the handler, stores and issuer.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	handler  *Handler
	router   http.Handler
	upstream *mocks.MockOAuth2Provider
	stores   *storage.Stores
	issuer   *token.Issuer
	clock    *testClock
	config   *server.AuthorizationServerConfig
}

func newTestEnv(t *testing.T, mutate func(*server.AuthorizationServerConfig)) *testEnv {
	t.Helper()

	cfg := &server.AuthorizationServerConfig{
		Issuer:                  testIssuer,
		ResourceURL:             testIssuer,
		ClientID:                testClientID,
		BaselineScope:           testBaselineScope,
		PendingAuthorizationTTL: 10 * time.Minute,
		AuthCodeTTL:             5 * time.Minute,
		RefreshTokenTTL:         30 * 24 * time.Hour,
	}
	if mutate != nil {
		mutate(cfg)
	}

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	stores := storage.NewMemoryStores(storage.WithCleanupInterval(0), storage.WithClock(clock.Now))
	t.Cleanup(func() { _ = stores.Close() })

	issuer, err := token.NewIssuer(token.Config{
		Secret:   []byte(testSecret),
		Issuer:   testIssuer,
		Audience: testIssuer,
		Now:      clock.Now,
	})
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	idp := mocks.NewMockOAuth2Provider(ctrl)

	h := NewHandler(cfg, stores, idp, issuer, WithClock(clock.Now))
	return &testEnv{
		handler:  h,
		router:   h.Routes(),
		upstream: idp,
		stores:   stores,
		issuer:   issuer,
		clock:    clock,
		config:   cfg,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func newGetRequest(path string, query url.Values) *http.Request {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return httptest.NewRequest(http.MethodGet, target, nil)
}

func (e *testEnv) get(path string, query url.Values) *httptest.ResponseRecorder {
	return e.do(newGetRequest(path, query))
}

func (e *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func (e *testEnv) pendingCount() int {
	return e.stores.Pending.(*storage.MemoryStore[storage.PendingAuthorization]).Len()
}

func (e *testEnv) codeCount() int {
	return e.stores.Codes.(*storage.MemoryStore[storage.AuthorizationCode]).Len()
}

// pkcePair returns a client verifier and its S256 challenge.
func pkcePair(t *testing.T) (verifier, challenge string) {
	t.Helper()
	verifier = servercrypto.GeneratePKCEVerifier()
	challenge, err := servercrypto.ComputePKCEChallenge(verifier)
	require.NoError(t, err)
	return verifier, challenge
}

func authorizeQuery(challenge string) url.Values {
	return url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {"code"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {"client-state"},
	}
}

// upstreamHop records what the broker sent to the upstream IdP.
type upstreamHop struct {
	mu        sync.Mutex
	state     string
	challenge string
}

func (u *upstreamHop) get() (state, challenge string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state, u.challenge
}

// expectAuthorizationURL stubs the upstream authorize URL and captures its inputs.
func (e *testEnv) expectAuthorizationURL() *upstreamHop {
	hop := &upstreamHop{}
	e.upstream.EXPECT().AuthorizationURL(gomock.Any(), gomock.Any()).
		DoAndReturn(func(state, challenge string, _ ...upstream.AuthorizationOption) (string, error) {
			hop.mu.Lock()
			defer hop.mu.Unlock()
			hop.state = state
			hop.challenge = challenge
			return testUpstreamURL + "?state=" + url.QueryEscape(state), nil
		})
	return hop
}

// authorize runs a successful authorize request and returns the upstream state.
func (e *testEnv) authorize(t *testing.T, query url.Values) (*upstreamHop, string) {
	t.Helper()
	hop := e.expectAuthorizationURL()
	rec := e.get(server.AuthorizePath, query)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	state, _ := hop.get()
	return hop, state
}

func upstreamTestTokens() *upstream.Tokens {
	return &upstream.Tokens{
		AccessToken:  "upstream-access",
		RefreshToken: "upstream-refresh",
		ExpiresIn:    2 * time.Hour,
	}
}

// expectUpstreamSuccess stubs a successful exchange and identity lookup,
// checking the broker proves possession of its own upstream challenge.
func (e *testEnv) expectUpstreamSuccess(t *testing.T, hop *upstreamHop) {
	t.Helper()
	e.upstream.EXPECT().ExchangeCode(gomock.Any(), testUpstreamCode, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, verifier string) (*upstream.Tokens, error) {
			_, challenge := hop.get()
			if !servercrypto.VerifyPKCE(verifier, challenge) {
				t.Errorf("upstream verifier does not match the upstream challenge")
			}
			return upstreamTestTokens(), nil
		})
	e.upstream.EXPECT().ResolveIdentity(gomock.Any(), gomock.Any()).
		Return(&upstream.UserInfo{Subject: "user-123", Name: "Ada", Email: "ada@example.com"}, nil)
}

// completeCallback runs authorize and callback and returns the client code.
func (e *testEnv) completeCallback(t *testing.T, challenge string) string {
	t.Helper()
	hop, state := e.authorize(t, authorizeQuery(challenge))
	e.expectUpstreamSuccess(t, hop)

	rec := e.get(server.CallbackPath, url.Values{"code": {testUpstreamCode}, "state": {state}})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

// seedCode stores an authorization code directly.
func (e *testEnv) seedCode(t *testing.T, code, challenge string) {
	t.Helper()
	now := e.clock.Now()
	err := e.stores.Codes.Set(context.Background(), code, storage.AuthorizationCode{
		ClientID:            testClientID,
		ClientRedirectURI:   testRedirectURI,
		ClientCodeChallenge: challenge,
		Scope:               testBaselineScope,
		User:                storage.User{ID: "user-123", Name: "Ada"},
		UpstreamTokens: storage.UpstreamTokens{
			AccessToken:  "upstream-access",
			RefreshToken: "upstream-refresh",
			ExpiresIn:    2 * time.Hour,
			ExpiresAt:    now.Add(2 * time.Hour),
		},
		ExpiresAt: now.Add(e.config.AuthCodeTTL),
	}, e.config.AuthCodeTTL)
	require.NoError(t, err)
}

func decodeOAuthError(t *testing.T, rec *httptest.ResponseRecorder) oauth.ErrorResponse {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp oauth.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeTokenResponse(t *testing.T, rec *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

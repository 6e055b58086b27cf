// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/stacklok/tableau-broker/pkg/authserver/metrics"
	"github.com/stacklok/tableau-broker/pkg/authserver/server"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/crypto"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/token"
	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
	"github.com/stacklok/tableau-broker/pkg/oauth"
)

// maxTokenBodySize bounds token request bodies (64KB).
const maxTokenBodySize = 64 * 1024

// tokenResponse is the RFC 6749 Section 5.1 success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenHandler handles POST /oauth/token requests. Parameters may be sent
// form-encoded or as a JSON object of strings.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	params, err := parseTokenRequest(w, req)
	if err != nil {
		h.failToken(w, req, "", server.ErrInvalidRequest.WithDescription(err.Error()))
		return
	}

	grantType := params.Get("grant_type")
	var (
		resp     *tokenResponse
		oauthErr *server.OAuthError
	)
	switch grantType {
	case "":
		oauthErr = server.ErrInvalidRequest.WithDescription("grant_type is required")
	case oauth.GrantTypeAuthorizationCode:
		resp, oauthErr = h.authorizationCodeGrant(req, params)
	case oauth.GrantTypeRefreshToken:
		resp, oauthErr = h.refreshTokenGrant(req, params)
	default:
		oauthErr = server.ErrUnsupportedGrantType.WithDescriptionf("grant_type %q is not supported", grantType)
		grantType = "unsupported"
	}
	if oauthErr != nil {
		h.failToken(w, req, grantType, oauthErr)
		return
	}

	h.metrics.TokenGrant(grantType, metrics.ResultSuccess)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) failToken(w http.ResponseWriter, req *http.Request, grantType string, err *server.OAuthError) {
	h.metrics.TokenGrant(grantType, err.Code)
	writeOAuthError(w, req, err)
}

// authorizationCodeGrant redeems a code. The code is removed by the first
// redemption attempt whatever its outcome, including a PKCE mismatch.
func (h *Handler) authorizationCodeGrant(req *http.Request, params url.Values) (*tokenResponse, *server.OAuthError) {
	ctx := req.Context()

	code := params.Get("code")
	verifier := params.Get("code_verifier")
	if code == "" || verifier == "" {
		return nil, server.ErrInvalidRequest.WithDescription("code and code_verifier are required")
	}

	record, err := h.stores.Codes.Take(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, server.ErrInvalidGrant
		}
		return nil, server.ErrServerError.WithCause(err)
	}

	now := h.now()
	if record.Expired(now) {
		return nil, server.ErrInvalidGrant
	}
	if !crypto.VerifyPKCE(verifier, record.ClientCodeChallenge) {
		return nil, server.ErrInvalidGrant.WithDescription("code_verifier does not match code_challenge")
	}
	if clientID := params.Get("client_id"); clientID != "" && clientID != record.ClientID {
		return nil, server.ErrInvalidGrant.WithDescription("client_id does not match the authorization request")
	}
	if redirectURI := params.Get("redirect_uri"); redirectURI != "" && redirectURI != record.ClientRedirectURI {
		return nil, server.ErrInvalidGrant.WithDescription("redirect_uri does not match the authorization request")
	}

	issued, oauthErr := h.issue(record.UpstreamTokens, record.User, record.ClientID, record.Scope)
	if oauthErr != nil {
		return nil, oauthErr
	}

	refreshToken := rand.Text()
	refresh := storage.RefreshTokenRecord{
		ClientID:       record.ClientID,
		Scope:          record.Scope,
		User:           record.User,
		UpstreamTokens: record.UpstreamTokens,
		ExpiresAt:      now.Add(h.config.RefreshTokenTTL),
	}
	if err := h.stores.RefreshTokens.Set(ctx, refreshToken, refresh, h.config.RefreshTokenTTL); err != nil {
		return nil, server.ErrServerError.
			WithDescription("failed to store refresh token").
			WithCause(err)
	}

	slog.InfoContext(ctx, "authorization code redeemed",
		"client_id", record.ClientID,
		"subject", record.User.ID,
	)
	return newTokenResponse(issued, refreshToken, record.Scope), nil
}

// refreshTokenGrant mints a new credential around the same upstream tokens.
// With rotation enabled the presented token is consumed and replaced by one
// that keeps the original expiry.
func (h *Handler) refreshTokenGrant(req *http.Request, params url.Values) (*tokenResponse, *server.OAuthError) {
	ctx := req.Context()

	refreshToken := params.Get("refresh_token")
	if refreshToken == "" {
		return nil, server.ErrInvalidRequest.WithDescription("refresh_token is required")
	}

	var (
		record storage.RefreshTokenRecord
		err    error
	)
	if h.config.RotateRefreshTokens {
		record, err = h.stores.RefreshTokens.Take(ctx, refreshToken)
	} else {
		record, err = h.stores.RefreshTokens.Get(ctx, refreshToken)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, server.ErrInvalidGrant
		}
		return nil, server.ErrServerError.WithCause(err)
	}

	now := h.now()
	if record.Expired(now) {
		_ = h.stores.RefreshTokens.Delete(ctx, refreshToken)
		return nil, server.ErrInvalidGrant
	}
	if clientID := params.Get("client_id"); clientID != "" && clientID != record.ClientID {
		return nil, server.ErrInvalidGrant.WithDescription("client_id does not match the refresh token")
	}

	issued, oauthErr := h.issue(record.UpstreamTokens, record.User, record.ClientID, record.Scope)
	if oauthErr != nil {
		if errors.Is(oauthErr, server.ErrInvalidGrant) {
			// The upstream tokens are never refreshed, so this record is spent.
			_ = h.stores.RefreshTokens.Delete(ctx, refreshToken)
		}
		return nil, oauthErr
	}

	var newRefreshToken string
	if h.config.RotateRefreshTokens {
		newRefreshToken = rand.Text()
		if err := h.stores.RefreshTokens.Set(ctx, newRefreshToken, record, record.ExpiresAt.Sub(now)); err != nil {
			return nil, server.ErrServerError.
				WithDescription("failed to store refresh token").
				WithCause(err)
		}
	}

	slog.DebugContext(ctx, "refresh token redeemed",
		"client_id", record.ClientID,
		"rotated", newRefreshToken != "",
	)
	return newTokenResponse(issued, newRefreshToken, record.Scope), nil
}

func (h *Handler) issue(tokens storage.UpstreamTokens, user storage.User, clientID, scope string) (*token.IssuedToken, *server.OAuthError) {
	issued, err := h.issuer.Issue(tokens, user, clientID, scope)
	if err != nil {
		if errors.Is(err, token.ErrUpstreamExpired) {
			return nil, server.ErrInvalidGrant.
				WithDescription("the upstream authorization has expired").
				WithCause(err)
		}
		return nil, server.ErrServerError.
			WithDescription("failed to issue access token").
			WithCause(err)
	}
	return issued, nil
}

func newTokenResponse(issued *token.IssuedToken, refreshToken, scope string) *tokenResponse {
	return &tokenResponse{
		AccessToken:  issued.Token,
		TokenType:    oauth.TokenTypeBearer,
		ExpiresIn:    int64(issued.ExpiresIn / time.Second),
		RefreshToken: refreshToken,
		Scope:        scope,
	}
}

// parseTokenRequest reads the request parameters from a form or JSON body.
func parseTokenRequest(w http.ResponseWriter, req *http.Request) (url.Values, error) {
	req.Body = http.MaxBytesReader(w, req.Body, maxTokenBodySize)

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if err := req.ParseForm(); err != nil {
			return nil, errors.New("request body is not a valid form")
		}
		return req.PostForm, nil
	}

	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, errors.New("request body is not a valid JSON object")
	}
	params := make(url.Values, len(body))
	for key, value := range body {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %q must be a string", key)
		}
		params.Set(key, s)
	}
	return params, nil
}

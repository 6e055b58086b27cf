// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/tableau-broker/pkg/authserver/metrics"
	"github.com/stacklok/tableau-broker/pkg/authserver/server"
	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
	"github.com/stacklok/tableau-broker/pkg/authserver/upstream"
)

// parseUpstreamState splits "authKey:nonce".
func parseUpstreamState(state string) (authKey, nonce string, ok bool) {
	authKey, nonce, ok = strings.Cut(state, stateSeparator)
	if !ok || authKey == "" || nonce == "" {
		return "", "", false
	}
	return authKey, nonce, true
}

// CallbackHandler handles GET /Callback requests from the upstream IdP.
//
// The pending authorization is only consumed once the upstream exchange and
// identity lookup have both succeeded, so a cancelled or failed callback
// leaves it in place and commits nothing.
func (h *Handler) CallbackHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	query := req.URL.Query()

	if upstreamErr := query.Get("error"); upstreamErr != "" {
		slog.InfoContext(ctx, "upstream IdP returned an error",
			"error", upstreamErr,
			"error_description", query.Get("error_description"),
		)
		h.failCallback(w, req, server.ErrAccessDenied)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		h.failCallback(w, req, server.ErrInvalidRequest.WithDescription("code and state are required"))
		return
	}
	authKey, nonce, ok := parseUpstreamState(state)
	if !ok {
		h.failCallback(w, req, server.ErrInvalidRequest.WithDescription("state is malformed"))
		return
	}

	pending, err := h.stores.Pending.Get(ctx, authKey)
	if err != nil {
		h.failCallback(w, req, storeLookupError(err, "unknown or expired authorization request"))
		return
	}
	if subtle.ConstantTimeCompare([]byte(nonce), []byte(pending.UpstreamNonce)) != 1 {
		h.failCallback(w, req, server.ErrInvalidRequest.WithDescription("unknown or expired authorization request"))
		return
	}

	start := time.Now()
	tokens, err := h.upstream.ExchangeCode(ctx, code, pending.UpstreamPKCEVerifier)
	h.metrics.ObserveUpstream("exchange_code", start, err)
	if err != nil {
		h.failCallback(w, req, upstreamExchangeError(err))
		return
	}

	start = time.Now()
	identity, err := h.upstream.ResolveIdentity(ctx, tokens)
	h.metrics.ObserveUpstream("resolve_identity", start, err)
	if err != nil {
		h.failCallback(w, req, server.ErrServerError.
			WithDescription("failed to resolve user identity").
			WithCause(err))
		return
	}

	// A concurrent callback for the same authKey may have won.
	if _, err := h.stores.Pending.Take(ctx, authKey); err != nil {
		h.failCallback(w, req, storeLookupError(err, "authorization request was already completed"))
		return
	}

	now := h.now()
	authCode := rand.Text()
	record := storage.AuthorizationCode{
		ClientID:            pending.ClientID,
		ClientRedirectURI:   pending.ClientRedirectURI,
		ClientCodeChallenge: pending.ClientCodeChallenge,
		Scope:               pending.Scope,
		User: storage.User{
			ID:    identity.Subject,
			Name:  identity.Name,
			Email: identity.Email,
		},
		UpstreamTokens: upstreamTokensFrom(tokens, now),
		ExpiresAt:      now.Add(h.config.AuthCodeTTL),
	}
	if err := h.stores.Codes.Set(ctx, authCode, record, h.config.AuthCodeTTL); err != nil {
		h.failCallback(w, req, server.ErrServerError.
			WithDescription("failed to store authorization code").
			WithCause(err))
		return
	}

	redirectURL, err := clientRedirectURL(pending.ClientRedirectURI, authCode, pending.ClientState)
	if err != nil {
		_ = h.stores.Codes.Delete(ctx, authCode)
		h.failCallback(w, req, server.ErrServerError.WithCause(err))
		return
	}

	slog.InfoContext(ctx, "upstream authentication completed",
		"client_id", pending.ClientID,
		"subject", identity.Subject,
	)
	h.metrics.Callback(metrics.ResultSuccess)
	http.Redirect(w, req, redirectURL, http.StatusFound)
}

func (h *Handler) failCallback(w http.ResponseWriter, req *http.Request, err *server.OAuthError) {
	h.metrics.Callback(err.Code)
	writeOAuthError(w, req, err)
}

// upstreamExchangeError keeps the upstream error code for the client and
// leaves the rest of the upstream response to the log.
func upstreamExchangeError(err error) *server.OAuthError {
	var exchangeErr *upstream.TokenExchangeError
	if errors.As(err, &exchangeErr) && exchangeErr.Code != "" {
		return server.ErrInvalidRequest.
			WithDescriptionf("upstream token exchange failed: %s", exchangeErr.Code).
			WithCause(err)
	}
	return server.ErrInvalidRequest.
		WithDescription("upstream token exchange failed").
		WithCause(err)
}

// storeLookupError maps a missing entry to invalid_request and anything
// else to server_error.
func storeLookupError(err error, description string) *server.OAuthError {
	if errors.Is(err, storage.ErrNotFound) {
		return server.ErrInvalidRequest.WithDescription(description)
	}
	return server.ErrServerError.WithCause(err)
}

// upstreamTokensFrom fills in an absolute expiry so later refresh grants
// measure the remaining upstream lifetime rather than the original one.
func upstreamTokensFrom(tokens *upstream.Tokens, now time.Time) storage.UpstreamTokens {
	out := storage.UpstreamTokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
		ExpiresAt:    tokens.ExpiresAt,
	}
	if out.ExpiresAt.IsZero() && out.ExpiresIn > 0 {
		out.ExpiresAt = now.Add(out.ExpiresIn)
	}
	return out
}

// clientRedirectURL appends code and state to the client's redirect URI,
// keeping any query it already carries.
func clientRedirectURL(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/tableau-broker/pkg/authserver/metrics"
	"github.com/stacklok/tableau-broker/pkg/authserver/server"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/crypto"
	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
	"github.com/stacklok/tableau-broker/pkg/oauth"
)

// stateSeparator joins authKey and upstream nonce in the upstream state parameter.
const stateSeparator = ":"

// authorizeRequest is a validated client authorization request.
type authorizeRequest struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Scope               string
}

// upstreamAuthSecrets holds the values generated for one upstream round trip.
type upstreamAuthSecrets struct {
	// AuthKey keys the pending authorization.
	AuthKey string
	// Nonce binds the upstream callback to this request.
	Nonce string
	// PKCEVerifier is the broker's code_verifier for the upstream hop.
	PKCEVerifier string
	// PKCEChallenge is the code_challenge derived from PKCEVerifier.
	PKCEChallenge string
}

func newUpstreamAuthSecrets() (*upstreamAuthSecrets, error) {
	verifier := crypto.GeneratePKCEVerifier()
	challenge, err := crypto.ComputePKCEChallenge(verifier)
	if err != nil {
		return nil, err
	}
	return &upstreamAuthSecrets{
		AuthKey:       rand.Text(),
		Nonce:         rand.Text(),
		PKCEVerifier:  verifier,
		PKCEChallenge: challenge,
	}, nil
}

// UpstreamState is the value sent as the upstream state parameter.
func (s *upstreamAuthSecrets) UpstreamState() string {
	return s.AuthKey + stateSeparator + s.Nonce
}

// parseAuthorizeRequest validates the query of an authorize request. The
// checks run in a fixed order so each failure maps to one error code.
func (h *Handler) parseAuthorizeRequest(query url.Values) (*authorizeRequest, *server.OAuthError) {
	ar := &authorizeRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		State:               query.Get("state"),
		Scope:               normalizeScope(query.Get("scope")),
	}
	responseType := query.Get("response_type")

	for _, param := range []struct{ name, value string }{
		{"client_id", ar.ClientID},
		{"redirect_uri", ar.RedirectURI},
		{"response_type", responseType},
		{"code_challenge", ar.CodeChallenge},
	} {
		if param.value == "" {
			return nil, server.ErrInvalidRequest.WithDescriptionf("%s is required", param.name)
		}
	}
	if !crypto.IsValidVerifier(ar.CodeChallenge) {
		return nil, server.ErrInvalidRequest.WithDescription("code_challenge is malformed")
	}

	if responseType != oauth.ResponseTypeCode {
		return nil, server.ErrUnsupportedResponseType
	}
	if ar.CodeChallengeMethod != crypto.PKCEChallengeMethodS256 {
		return nil, server.ErrInvalidRequest.WithDescription("code_challenge_method must be S256")
	}
	if err := oauth.ValidateRedirectURI(ar.RedirectURI, oauth.RedirectURIPolicyAllowPrivateSchemes); err != nil {
		return nil, server.ErrInvalidRequest.WithDescription(err.Error())
	}
	if ar.ClientID != h.config.ClientID {
		return nil, server.ErrInvalidRequest.WithDescription("unknown client_id")
	}

	if ar.Scope == "" {
		ar.Scope = h.config.BaselineScope
	}
	return ar, nil
}

// normalizeScope collapses runs of whitespace in a space-delimited scope.
func normalizeScope(scope string) string {
	return strings.Join(strings.Fields(scope), " ")
}

// AuthorizeHandler handles GET /oauth/authorize requests.
// It validates the client's authorization request, parks it as a pending
// authorization, and redirects the user agent to the upstream IdP.
//
// Errors are rendered as JSON rather than redirected, since the redirect
// URI is not trusted until it has been validated.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	ar, oauthErr := h.parseAuthorizeRequest(req.URL.Query())
	if oauthErr != nil {
		h.metrics.Authorize(oauthErr.Code)
		writeOAuthError(w, req, oauthErr)
		return
	}

	secrets, err := newUpstreamAuthSecrets()
	if err != nil {
		h.failAuthorize(w, req, server.ErrServerError.WithCause(err))
		return
	}

	pending := storage.PendingAuthorization{
		ClientID:                  ar.ClientID,
		ClientRedirectURI:         ar.RedirectURI,
		ClientCodeChallenge:       ar.CodeChallenge,
		ClientCodeChallengeMethod: ar.CodeChallengeMethod,
		ClientState:               ar.State,
		Scope:                     ar.Scope,
		UpstreamNonce:             secrets.Nonce,
		UpstreamPKCEVerifier:      secrets.PKCEVerifier,
		CreatedAt:                 h.now(),
	}
	if err := h.stores.Pending.Set(ctx, secrets.AuthKey, pending, h.config.PendingAuthorizationTTL); err != nil {
		if errors.Is(err, storage.ErrCapacity) {
			slog.Warn("pending authorization store is full")
		}
		h.failAuthorize(w, req, server.ErrServerError.
			WithDescription("failed to store authorization request").
			WithCause(err))
		return
	}

	upstreamURL, err := h.upstream.AuthorizationURL(secrets.UpstreamState(), secrets.PKCEChallenge)
	if err != nil {
		_ = h.stores.Pending.Delete(ctx, secrets.AuthKey)
		h.failAuthorize(w, req, server.ErrServerError.
			WithDescription("failed to build authorization URL").
			WithCause(err))
		return
	}

	slog.DebugContext(ctx, "redirecting to upstream IdP",
		"client_id", ar.ClientID,
		"scope", ar.Scope,
	)
	h.metrics.Authorize(metrics.ResultSuccess)
	http.Redirect(w, req, upstreamURL, http.StatusFound)
}

func (h *Handler) failAuthorize(w http.ResponseWriter, req *http.Request, err *server.OAuthError) {
	h.metrics.Authorize(err.Code)
	writeOAuthError(w, req, err)
}

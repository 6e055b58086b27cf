// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/tableau-broker/pkg/authserver/metrics"
	"github.com/stacklok/tableau-broker/pkg/authserver/server"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/token"
	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
	"github.com/stacklok/tableau-broker/pkg/authserver/upstream"
	"github.com/stacklok/tableau-broker/pkg/oauth"
)

// TokenIssuer mints bearer credentials.
type TokenIssuer interface {
	Issue(tokens storage.UpstreamTokens, user storage.User, clientID, scope string) (*token.IssuedToken, error)
}

// Handler provides HTTP handlers for the OAuth authorization server endpoints.
type Handler struct {
	config   *server.AuthorizationServerConfig
	stores   *storage.Stores
	upstream upstream.OAuth2Provider
	issuer   TokenIssuer
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics records request outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(
	config *server.AuthorizationServerConfig,
	stores *storage.Stores,
	upstreamIDP upstream.OAuth2Provider,
	issuer TokenIssuer,
	opts ...Option,
) *Handler {
	h := &Handler{
		config:   config,
		stores:   stores,
		upstream: upstreamIDP,
		issuer:   issuer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a router with all OAuth endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OAuthRoutes(r)
	h.WellKnownRoutes(r)
	return r
}

// OAuthRoutes registers the register, authorize, callback and token endpoints.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Post(server.RegisterPath, h.RegisterClientHandler)
	r.Get(server.AuthorizePath, h.AuthorizeHandler)
	r.Get(server.CallbackPath, h.CallbackHandler)
	r.Post(server.TokenPath, h.TokenHandler)
}

// WellKnownRoutes registers both discovery documents. Each is also served
// under path suffixes (RFC 8414 Section 3.1, RFC 9728 Section 3.1) so clients
// that append the resource path still find it.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	for _, route := range []struct {
		path    string
		handler http.HandlerFunc
	}{
		{oauth.WellKnownAuthorizationServerPath, h.OAuthDiscoveryHandler},
		{oauth.WellKnownProtectedResourcePath, h.ProtectedResourceHandler},
	} {
		r.Get(route.path, route.handler)
		r.Get(route.path+"/*", route.handler)
		r.Options(route.path, preflightHandler)
		r.Options(route.path+"/*", preflightHandler)
	}
}

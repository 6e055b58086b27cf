// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stacklok/tableau-broker/pkg/authserver/server/crypto"
	"github.com/stacklok/tableau-broker/pkg/logger"
	"github.com/stacklok/tableau-broker/pkg/oauth"
)

// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age for discovery documents (1 hour).
const DefaultDiscoveryCacheMaxAge = 3600

// buildOAuthMetadata constructs the OAuth 2.0 Authorization Server Metadata (RFC 8414).
func (h *Handler) buildOAuthMetadata() oauth.AuthorizationServerMetadata {
	return oauth.AuthorizationServerMetadata{
		// REQUIRED
		Issuer: h.config.Issuer,

		// RECOMMENDED
		AuthorizationEndpoint:  h.config.AuthorizationEndpoint(),
		TokenEndpoint:          h.config.TokenEndpoint(),
		RegistrationEndpoint:   h.config.RegistrationEndpoint(),
		ResponseTypesSupported: []string{oauth.ResponseTypeCode},
		ScopesSupported:        h.scopesSupported(),

		// OPTIONAL
		GrantTypesSupported: []string{
			oauth.GrantTypeAuthorizationCode,
			oauth.GrantTypeRefreshToken,
		},
		CodeChallengeMethodsSupported:     []string{crypto.PKCEChallengeMethodS256},
		TokenEndpointAuthMethodsSupported: []string{oauth.TokenEndpointAuthMethodNone},
	}
}

func (h *Handler) scopesSupported() []string {
	if len(h.config.ScopesSupported) > 0 {
		return h.config.ScopesSupported
	}
	return []string{h.config.BaselineScope}
}

// OAuthDiscoveryHandler handles GET /.well-known/oauth-authorization-server requests.
func (h *Handler) OAuthDiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	writeDiscoveryDocument(w, h.buildOAuthMetadata())
}

// ProtectedResourceHandler handles GET /.well-known/oauth-protected-resource
// requests (RFC 9728). This is where the WWW-Authenticate challenge of a
// protected route points unauthenticated clients.
func (h *Handler) ProtectedResourceHandler(w http.ResponseWriter, _ *http.Request) {
	writeDiscoveryDocument(w, oauth.ProtectedResourceMetadata{
		Resource:               h.config.ResourceURL,
		AuthorizationServers:   []string{h.config.Issuer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        h.scopesSupported(),
	})
}

func writeDiscoveryDocument(w http.ResponseWriter, document any) {
	data, err := json.Marshal(document)
	if err != nil {
		logger.Errorw("failed to encode discovery document",
			"error", err.Error(),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultDiscoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

// Discovery documents are public, so any origin may read them.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, mcp-protocol-version")
}

func preflightHandler(w http.ResponseWriter, _ *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

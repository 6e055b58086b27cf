// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides the bearer authentication middleware for
// routes protected by the broker.
package middleware

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/stacklok/tableau-broker/pkg/auth"
	"github.com/stacklok/tableau-broker/pkg/authserver/metrics"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/token"
	"github.com/stacklok/tableau-broker/pkg/logger"
	"github.com/stacklok/tableau-broker/pkg/oauth"
)

const (
	bearerPrefix = "bearer "

	contentTypeEventStream = "text/event-stream"

	verificationMissing = "missing"
)

// Verifier validates a signed bearer credential.
type Verifier interface {
	Verify(signed string) (*token.Claims, error)
}

// Config configures BearerMiddleware.
type Config struct {
	// Realm is advertised in WWW-Authenticate, usually the broker's issuer URL.
	Realm string

	// ResourceURL is the protected resource; its RFC 9728 metadata URL is
	// advertised so unauthenticated clients can discover the authorization server.
	ResourceURL string

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// ResourceMetadataURL returns the protected resource metadata URL for resourceURL.
func ResourceMetadataURL(resourceURL string) string {
	if resourceURL == "" {
		return ""
	}
	return strings.TrimSuffix(resourceURL, "/") + oauth.WellKnownProtectedResourcePath
}

// BearerMiddleware creates an HTTP middleware that validates the bearer
// credential and attaches the upstream credentials it carries to the request
// context. Clients that accept text/event-stream get the rejection as a single
// SSE error event instead of a JSON body.
func BearerMiddleware(verifier Verifier, cfg Config) func(http.Handler) http.Handler {
	metadataURL := ResourceMetadataURL(cfg.ResourceURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				cfg.Metrics.Verification(verificationMissing)
				w.Header().Set("WWW-Authenticate", buildWWWAuthenticate(cfg.Realm, metadataURL, false, ""))
				writeUnauthorized(w, r, "Authorization header required")
				return
			}

			// The auth scheme is case-insensitive (RFC 7235 Section 2.1).
			if len(authHeader) <= len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				rejectToken(w, r, cfg, metadataURL, "Authorization header must use the Bearer scheme")
				return
			}

			claims, err := verifier.Verify(strings.TrimSpace(authHeader[len(bearerPrefix):]))
			if err != nil {
				rejectToken(w, r, cfg, metadataURL, err.Error())
				return
			}

			cfg.Metrics.Verification(metrics.ResultSuccess)
			ctx := auth.WithUpstreamCredentials(r.Context(), CredentialsFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CredentialsFromClaims unpacks the upstream credentials from verified claims.
func CredentialsFromClaims(claims *token.Claims) *auth.UpstreamCredentials {
	creds := &auth.UpstreamCredentials{
		Subject:      claims.Subject,
		ClientID:     claims.ClientID,
		Scope:        claims.Scope,
		AccessToken:  claims.UpstreamAccessToken,
		RefreshToken: claims.UpstreamRefreshToken,
	}
	if claims.ExpiresAt != nil {
		creds.ExpiresAt = claims.ExpiresAt.Time
	}
	return creds
}

func rejectToken(w http.ResponseWriter, r *http.Request, cfg Config, metadataURL, description string) {
	cfg.Metrics.Verification(oauth.ErrorInvalidToken)
	logger.Debugw("bearer credential rejected", "path", r.URL.Path, "reason", description)
	w.Header().Set("WWW-Authenticate", buildWWWAuthenticate(cfg.Realm, metadataURL, true, description))
	writeUnauthorized(w, r, description)
}

// writeUnauthorized writes the 401 body, as JSON or as one SSE error event.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, description string) {
	body, err := json.Marshal(oauth.ErrorResponse{
		Error:            oauth.ErrorInvalidToken,
		ErrorDescription: description,
	})
	if err != nil {
		http.Error(w, description, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if acceptsEventStream(r) {
		w.Header().Set("Content-Type", contentTypeEventStream)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", body)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(body)
}

func acceptsEventStream(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		for _, part := range strings.Split(accept, ",") {
			mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err == nil && mediaType == contentTypeEventStream {
				return true
			}
		}
	}
	return false
}

// buildWWWAuthenticate builds a RFC 6750 / RFC 9728 compliant value for the
// WWW-Authenticate header. It always includes realm and, if set, resource_metadata.
// If includeError is true, it appends error="invalid_token" and an optional description.
func buildWWWAuthenticate(realm, resourceMetadataURL string, includeError bool, errDescription string) string {
	var parts []string

	parts = append(parts, fmt.Sprintf(`realm="%s"`, EscapeQuotes(realm)))

	// resource_metadata (RFC 9728 Section 5.1)
	if resourceMetadataURL != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, EscapeQuotes(resourceMetadataURL)))
	}

	// error fields (RFC 6750 Section 3)
	if includeError {
		parts = append(parts, fmt.Sprintf(`error="%s"`, oauth.ErrorInvalidToken))
		if errDescription != "" {
			parts = append(parts, fmt.Sprintf(`error_description="%s"`, EscapeQuotes(errDescription)))
		}
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// EscapeQuotes escapes quotes in a string for use in a quoted-string context.
func EscapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

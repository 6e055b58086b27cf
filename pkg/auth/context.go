// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import "context"

// UpstreamCredentialsContextKey is the key used to store UpstreamCredentials
// in the request context.
type UpstreamCredentialsContextKey struct{}

// WithUpstreamCredentials stores creds in the context.
// If creds is nil, the original context is returned unchanged.
func WithUpstreamCredentials(ctx context.Context, creds *UpstreamCredentials) context.Context {
	if creds == nil {
		return ctx
	}
	return context.WithValue(ctx, UpstreamCredentialsContextKey{}, creds)
}

// UpstreamCredentialsFromContext retrieves the credentials attached by the
// bearer middleware. It returns nil and false on unauthenticated routes.
//
// Example:
//
//	creds, ok := auth.UpstreamCredentialsFromContext(r.Context())
//	if !ok {
//	    http.Error(w, "unauthenticated", http.StatusUnauthorized)
//	    return
//	}
//	req.Header.Set("X-Tableau-Auth", creds.AccessToken)
func UpstreamCredentialsFromContext(ctx context.Context) (*UpstreamCredentials, bool) {
	creds, ok := ctx.Value(UpstreamCredentialsContextKey{}).(*UpstreamCredentials)
	return creds, ok
}

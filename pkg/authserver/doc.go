// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver assembles the OAuth 2.1 delegated-authorization broker
// that fronts the Tableau MCP server.
//
// The broker lets an MCP client obtain a bearer credential while the user
// authenticates at an upstream enterprise IdP:
//   - Authorization Code flow with PKCE (RFC 7636), S256 only
//   - Dynamic Client Registration (RFC 7591) returning one fixed public client
//   - Authorization Server Metadata (RFC 8414) and Protected Resource
//     Metadata (RFC 9728)
//   - HS256 bearer credentials that embed the upstream tokens
//
// # Usage
//
//	broker, err := authserver.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer broker.Close()
//
//	r := chi.NewRouter()
//	broker.RegisterRoutes(r)
//	r.With(broker.Middleware()).Handle("/mcp", mcpHandler)
//
// Handlers behind the middleware read the caller's upstream tokens with
// auth.UpstreamCredentialsFromContext.
//
// # Storage
//
// Pending authorizations, authorization codes and refresh tokens live in
// expiring stores. The memory backend suits a single instance; the Redis
// backend shares state between replicas.
//
// # Subpackages
//   - server: request-time configuration, OAuth errors, HTTP handlers, tokens
//   - storage: expiring stores
//   - upstream: upstream IdP communication
//   - metrics: Prometheus instrumentation
package authserver

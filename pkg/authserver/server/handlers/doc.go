// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides HTTP handlers for the broker's OAuth 2.1 endpoints.
//
// This package implements the HTTP layer of the authorization broker:
//   - Authorization server metadata (/.well-known/oauth-authorization-server, RFC 8414)
//   - Protected resource metadata (/.well-known/oauth-protected-resource, RFC 9728)
//   - Dynamic client registration (POST /oauth/register, RFC 7591)
//   - Authorization (GET /oauth/authorize) and the upstream callback (GET /Callback)
//   - Token exchange (POST /oauth/token)
//
// The Handler struct coordinates all handlers and provides route registration methods
// for integrating with a chi router.
package handlers

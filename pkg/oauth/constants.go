// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

// Error codes per RFC 6749 Section 5.2 and RFC 6750 Section 3.1.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorInvalidToken            = "invalid_token"
	ErrorAccessDenied            = "access_denied"
	ErrorServerError             = "server_error"
)

// Grant and response types supported by the broker.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"
	TokenTypeBearer            = "Bearer"

	// PKCEMethodS256 is the only code_challenge_method the broker accepts.
	PKCEMethodS256 = "S256"

	// TokenEndpointAuthMethodNone marks a public client. Security rests on PKCE.
	TokenEndpointAuthMethodNone = "none"
)

// Well-known discovery paths.
const (
	WellKnownAuthorizationServerPath = "/.well-known/oauth-authorization-server"
	WellKnownProtectedResourcePath   = "/.well-known/oauth-protected-resource"
)

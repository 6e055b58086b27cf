// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registration validates OAuth 2.0 Dynamic Client Registration (DCR)
// requests per RFC 7591. The broker serves a single public client, so a
// successful registration echoes the client's metadata back under the fixed
// client_id; nothing is persisted and no secret is issued.
package registration

import (
	"slices"
	"strings"
	"time"

	"github.com/stacklok/tableau-broker/pkg/oauth"
)

// DCR error codes per RFC 7591 Section 3.2.2
const (
	// DCRErrorInvalidRedirectURI indicates that the value of one or more
	// redirect_uris is invalid.
	DCRErrorInvalidRedirectURI = "invalid_redirect_uri"

	// DCRErrorInvalidClientMetadata indicates that the value of one of the
	// client metadata fields is invalid and the server has rejected this request.
	DCRErrorInvalidClientMetadata = "invalid_client_metadata"
)

// Validation limits to prevent DoS attacks via excessively large requests.
const (
	// MaxRedirectURICount is the maximum number of redirect URIs allowed per client.
	MaxRedirectURICount = 10

	// MaxClientNameLength is the maximum allowed length for a client name.
	MaxClientNameLength = 256

	// MaxRequestBodySize bounds the registration request body (64 KiB).
	MaxRequestBodySize = 64 << 10
)

// DCRRequest represents an OAuth 2.0 Dynamic Client Registration request
// per RFC 7591 Section 2.
type DCRRequest struct {
	// RedirectURIs is optional; every entry must pass the redirect URI policy.
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	ClientName string `json:"client_name,omitempty"`

	// TokenEndpointAuthMethod must be "none" when set.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// GrantTypes defaults to ["authorization_code", "refresh_token"].
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes defaults to ["code"].
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is a space-separated list echoed back to the client.
	Scope string `json:"scope,omitempty"`
}

// DCRResponse represents a successful OAuth 2.0 Dynamic Client Registration
// response per RFC 7591 Section 3.2.1.
type DCRResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
}

// DCRError represents an OAuth 2.0 Dynamic Client Registration error
// response per RFC 7591 Section 3.2.2.
type DCRError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

var (
	defaultGrantTypes    = []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken}
	defaultResponseTypes = []string{oauth.ResponseTypeCode}

	allowedGrantTypes = map[string]bool{
		oauth.GrantTypeAuthorizationCode: true,
		oauth.GrantTypeRefreshToken:      true,
	}
	allowedResponseTypes = map[string]bool{
		oauth.ResponseTypeCode: true,
	}
)

// ValidateDCRRequest validates req and returns a copy with defaults applied.
func ValidateDCRRequest(req *DCRRequest) (*DCRRequest, *DCRError) {
	if len(req.RedirectURIs) > MaxRedirectURICount {
		return nil, &DCRError{
			Error:            DCRErrorInvalidRedirectURI,
			ErrorDescription: "too many redirect_uris (maximum 10)",
		}
	}
	for _, uri := range req.RedirectURIs {
		if err := ValidateRedirectURI(uri); err != nil {
			return nil, err
		}
	}

	if len(req.ClientName) > MaxClientNameLength {
		return nil, &DCRError{
			Error:            DCRErrorInvalidClientMetadata,
			ErrorDescription: "client_name too long (maximum 256 characters)",
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = oauth.TokenEndpointAuthMethodNone
	}
	if authMethod != oauth.TokenEndpointAuthMethodNone {
		return nil, &DCRError{
			Error:            DCRErrorInvalidClientMetadata,
			ErrorDescription: "token_endpoint_auth_method must be 'none' for public clients",
		}
	}

	grantTypes, err := validateGrantTypes(req.GrantTypes)
	if err != nil {
		return nil, err
	}
	responseTypes, err := validateResponseTypes(req.ResponseTypes)
	if err != nil {
		return nil, err
	}

	return &DCRRequest{
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   strings.Join(strings.Fields(req.Scope), " "),
	}, nil
}

// NewDCRResponse builds the registration response for a validated request.
func NewDCRResponse(clientID string, validated *DCRRequest, issuedAt time.Time) *DCRResponse {
	return &DCRResponse{
		ClientID:                clientID,
		ClientIDIssuedAt:        issuedAt.Unix(),
		RedirectURIs:            validated.RedirectURIs,
		ClientName:              validated.ClientName,
		TokenEndpointAuthMethod: validated.TokenEndpointAuthMethod,
		GrantTypes:              validated.GrantTypes,
		ResponseTypes:           validated.ResponseTypes,
		Scope:                   validated.Scope,
	}
}

func validateGrantTypes(grantTypes []string) ([]string, *DCRError) {
	if len(grantTypes) == 0 {
		grantTypes = defaultGrantTypes
	}
	if !slices.Contains(grantTypes, oauth.GrantTypeAuthorizationCode) {
		return nil, &DCRError{
			Error:            DCRErrorInvalidClientMetadata,
			ErrorDescription: "grant_types must include 'authorization_code'",
		}
	}
	for _, gt := range grantTypes {
		if !allowedGrantTypes[gt] {
			return nil, &DCRError{
				Error:            DCRErrorInvalidClientMetadata,
				ErrorDescription: "unsupported grant_type: " + gt,
			}
		}
	}
	return grantTypes, nil
}

func validateResponseTypes(responseTypes []string) ([]string, *DCRError) {
	if len(responseTypes) == 0 {
		responseTypes = defaultResponseTypes
	}
	for _, rt := range responseTypes {
		if !allowedResponseTypes[rt] {
			return nil, &DCRError{
				Error:            DCRErrorInvalidClientMetadata,
				ErrorDescription: "unsupported response_type: " + rt,
			}
		}
	}
	return responseTypes, nil
}

// ValidateRedirectURI applies the broker's redirect URI policy: https for any
// host, http for loopback hosts, and private-use schemes for native clients.
func ValidateRedirectURI(uri string) *DCRError {
	if err := oauth.ValidateRedirectURI(uri, oauth.RedirectURIPolicyAllowPrivateSchemes); err != nil {
		return &DCRError{
			Error:            DCRErrorInvalidRedirectURI,
			ErrorDescription: err.Error(),
		}
	}
	return nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=types.go OAuth2Provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProviderType identifies the type of upstream Identity Provider.
type ProviderType string

const (
	// ProviderTypeOIDC is for OpenID Connect providers that support discovery.
	ProviderTypeOIDC ProviderType = "oidc"
	// ProviderTypeOAuth2 is for pure OAuth 2.0 providers with explicit endpoints.
	ProviderTypeOAuth2 ProviderType = "oauth2"
)

// AuthorizationOption configures authorization URL generation.
type AuthorizationOption func(*authorizationOptions)

type authorizationOptions struct {
	additionalParams map[string]string
}

// WithAdditionalParams adds custom parameters to the authorization URL.
func WithAdditionalParams(params map[string]string) AuthorizationOption {
	return func(o *authorizationOptions) {
		if o.additionalParams == nil {
			o.additionalParams = make(map[string]string)
		}
		for k, v := range params {
			o.additionalParams[k] = v
		}
	}
}

// Tokens represents the tokens obtained from an upstream Identity Provider.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	// IDToken is only set by OIDC providers.
	IDToken string
	// ExpiresIn is the lifetime the IdP reported. Zero when it reported none.
	ExpiresIn time.Duration
	// ExpiresAt is when the access token expires. Zero when unknown.
	ExpiresAt time.Time
}

// UserInfo is the identity resolved from the upstream session.
type UserInfo struct {
	Subject string
	Name    string
	Email   string
}

// OAuth2Provider handles communication with an upstream Identity Provider.
type OAuth2Provider interface {
	// Type returns the provider type.
	Type() ProviderType

	// AuthorizationURL builds the URL to redirect the user to the upstream IDP.
	// state correlates the callback; codeChallenge is the broker's own S256 challenge.
	AuthorizationURL(state, codeChallenge string, opts ...AuthorizationOption) (string, error)

	// ExchangeCode exchanges an authorization code for tokens with the upstream IDP.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error)

	// ResolveIdentity determines who the tokens were issued to.
	ResolveIdentity(ctx context.Context, tokens *Tokens) (*UserInfo, error)
}

// ErrIdentityNotFound is returned when the upstream response carries no subject.
var ErrIdentityNotFound = errors.New("upstream identity has no subject")

// TokenExchangeError describes an OAuth error response from the upstream
// token endpoint. Code and Description are safe to surface to clients;
// Body is for logs only.
type TokenExchangeError struct {
	StatusCode  int
	Code        string
	Description string
	Body        string
}

// Error implements the error interface.
func (e *TokenExchangeError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("upstream token endpoint returned status %d", e.StatusCode)
	}
	if e.Description == "" {
		return fmt.Sprintf("upstream token endpoint returned %s", e.Code)
	}
	return fmt.Sprintf("upstream token endpoint returned %s: %s", e.Code, e.Description)
}

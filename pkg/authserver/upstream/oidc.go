// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	defaultDiscoveryMaxTries       = 4
	defaultDiscoveryInitialBackoff = 500 * time.Millisecond
)

// defaultOIDCScopes are requested when the configuration names none.
var defaultOIDCScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// Compile-time interface compliance check.
var _ OAuth2Provider = (*OIDCProvider)(nil)

// OIDCProvider is an OAuth2Provider whose endpoints come from OIDC discovery.
type OIDCProvider struct {
	*BaseOAuth2Provider
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers the issuer's endpoints, retrying with
// exponential backoff, and returns a provider bound to them.
func NewOIDCProvider(ctx context.Context, config *Config, opts ...ProviderOption) (*OIDCProvider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Type != ProviderTypeOIDC {
		return nil, fmt.Errorf("config.Type must be %q, got %q", ProviderTypeOIDC, config.Type)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := applyOptions(opts)

	// The provider keeps this context for later JWKS fetches, so it must
	// outlive the startup call.
	discoveryCtx := oidc.ClientContext(context.WithoutCancel(ctx), o.httpClient)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = defaultDiscoveryInitialBackoff

	attempt := 0
	provider, err := backoff.Retry(ctx, func() (*oidc.Provider, error) {
		attempt++
		p, err := oidc.NewProvider(discoveryCtx, config.Issuer)
		if err != nil {
			slog.Warn("OIDC discovery failed",
				"issuer", config.Issuer,
				"attempt", attempt,
				"error", err,
			)
			return nil, err
		}
		return p, nil
	}, backoff.WithBackOff(expBackoff), backoff.WithMaxTries(o.discoveryMaxTries))
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery for %s failed: %w", config.Issuer, err)
	}

	cfg := *config
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = slices.Clone(defaultOIDCScopes)
	}

	base := newBaseProvider(&cfg, provider.Endpoint(), o.httpClient)

	slog.Info("OIDC provider created",
		"issuer", config.Issuer,
		"authorization_endpoint", provider.Endpoint().AuthURL,
		"token_endpoint", provider.Endpoint().TokenURL,
	)

	return &OIDCProvider{
		BaseOAuth2Provider: base,
		provider:           provider,
		verifier:           provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
	}, nil
}

// Type implements OAuth2Provider.
func (*OIDCProvider) Type() ProviderType {
	return ProviderTypeOIDC
}

// ResolveIdentity implements OAuth2Provider. An explicit userinfo
// configuration wins; otherwise the verified ID token is used, and the
// discovered userinfo endpoint is the last resort.
func (p *OIDCProvider) ResolveIdentity(ctx context.Context, tokens *Tokens) (*UserInfo, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, errors.New("access token is required to resolve identity")
	}
	if p.config.UserInfo != nil {
		return p.fetchUserInfo(ctx, tokens.AccessToken)
	}
	if tokens.IDToken != "" {
		return p.identityFromIDToken(ctx, tokens.IDToken)
	}

	info, err := p.provider.UserInfo(
		oidc.ClientContext(ctx, p.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tokens.AccessToken, TokenType: "Bearer"}),
	)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	if info.Subject == "" {
		return nil, ErrIdentityNotFound
	}

	var claims struct {
		Name string `json:"name"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo claims: %w", err)
	}
	return &UserInfo{Subject: info.Subject, Name: claims.Name, Email: info.Email}, nil
}

func (p *OIDCProvider) identityFromIDToken(ctx context.Context, rawIDToken string) (*UserInfo, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream ID token: %w", err)
	}
	if idToken.Subject == "" {
		return nil, ErrIdentityNotFound
	}

	var claims struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}
	return &UserInfo{Subject: idToken.Subject, Name: claims.Name, Email: claims.Email}, nil
}

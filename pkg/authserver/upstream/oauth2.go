// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/stacklok/tableau-broker/pkg/networking"
)

const pkceChallengeMethodS256 = "S256"

// Compile-time interface compliance check.
var _ OAuth2Provider = (*BaseOAuth2Provider)(nil)

// BaseOAuth2Provider implements OAuth 2.0 flows for pure OAuth 2.0 providers.
// OIDCProvider embeds it to share the code exchange and userinfo logic.
type BaseOAuth2Provider struct {
	config       *Config
	oauth2Config *oauth2.Config
	httpClient   *http.Client
	now          func() time.Time
}

// ProviderOption configures a provider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	httpClient        *http.Client
	discoveryMaxTries uint
}

// WithHTTPClient sets the client used for every upstream call.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(o *providerOptions) {
		o.httpClient = client
	}
}

// WithDiscoveryMaxTries bounds OIDC discovery attempts at startup.
func WithDiscoveryMaxTries(n uint) ProviderOption {
	return func(o *providerOptions) {
		o.discoveryMaxTries = n
	}
}

func applyOptions(opts []ProviderOption) providerOptions {
	o := providerOptions{
		httpClient:        http.DefaultClient,
		discoveryMaxTries: defaultDiscoveryMaxTries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewOAuth2Provider creates a provider with explicit endpoints.
func NewOAuth2Provider(config *Config, opts ...ProviderOption) (*BaseOAuth2Provider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Type != ProviderTypeOAuth2 {
		return nil, fmt.Errorf("config.Type must be %q, got %q", ProviderTypeOAuth2, config.Type)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := applyOptions(opts)
	p := newBaseProvider(config, oauth2.Endpoint{
		AuthURL:  config.AuthorizationEndpoint,
		TokenURL: config.TokenEndpoint,
	}, o.httpClient)

	slog.Info("OAuth2 provider created",
		"authorization_endpoint", config.AuthorizationEndpoint,
		"token_endpoint", config.TokenEndpoint,
		"client_id", config.ClientID,
	)
	return p, nil
}

func newBaseProvider(config *Config, endpoint oauth2.Endpoint, client *http.Client) *BaseOAuth2Provider {
	// Credentials go in the form body; public upstream clients have no secret
	// to put in a Basic header.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &BaseOAuth2Provider{
		config: config,
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  config.RedirectURI,
			Scopes:       config.Scopes,
		},
		httpClient: client,
		now:        time.Now,
	}
}

// Type implements OAuth2Provider.
func (*BaseOAuth2Provider) Type() ProviderType {
	return ProviderTypeOAuth2
}

// AuthorizationURL implements OAuth2Provider.
func (p *BaseOAuth2Provider) AuthorizationURL(state, codeChallenge string, opts ...AuthorizationOption) (string, error) {
	if state == "" {
		return "", errors.New("state parameter is required")
	}
	if codeChallenge == "" {
		return "", errors.New("code challenge is required")
	}

	authOpts := &authorizationOptions{}
	for _, opt := range opts {
		opt(authOpts)
	}

	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkceChallengeMethodS256),
	}
	for k, v := range authOpts.additionalParams {
		params = append(params, oauth2.SetAuthURLParam(k, v))
	}

	return p.oauth2Config.AuthCodeURL(state, params...), nil
}

// ExchangeCode implements OAuth2Provider. OAuth error responses come back as
// *TokenExchangeError; transport failures and cancellation are wrapped as-is.
func (p *BaseOAuth2Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	slog.Debug("exchanging upstream authorization code",
		"token_endpoint", p.oauth2Config.Endpoint.TokenURL,
		"has_pkce_verifier", codeVerifier != "",
	)

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	var exchangeOpts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(codeVerifier))
	}

	tok, err := p.oauth2Config.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return nil, exchangeError(err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("upstream token response has no access_token")
	}

	tokens := tokensFromOAuth2(tok, p.now())
	slog.Debug("upstream authorization code exchange successful",
		"has_refresh_token", tokens.RefreshToken != "",
		"has_id_token", tokens.IDToken != "",
		"expires_in", tokens.ExpiresIn,
	)
	return tokens, nil
}

// ResolveIdentity implements OAuth2Provider using the configured userinfo endpoint.
func (p *BaseOAuth2Provider) ResolveIdentity(ctx context.Context, tokens *Tokens) (*UserInfo, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, errors.New("access token is required to resolve identity")
	}
	if p.config.UserInfo == nil {
		return nil, errors.New("no userinfo endpoint configured")
	}
	return p.fetchUserInfo(ctx, tokens.AccessToken)
}

func (p *BaseOAuth2Provider) fetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	cfg := p.config.UserInfo
	opts := []networking.FetchOption{
		networking.WithMethod(cfg.HTTPMethod),
		networking.WithBearerToken(accessToken),
	}
	for k, v := range cfg.AdditionalHeaders {
		opts = append(opts, networking.WithHeader(k, v))
	}

	body, err := networking.FetchJSONBody(ctx, p.httpClient, cfg.EndpointURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	return parseUserInfo(body, cfg)
}

// parseUserInfo extracts identity fields from a userinfo response.
func parseUserInfo(body []byte, cfg *UserInfoConfig) (*UserInfo, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("userinfo response is not valid JSON")
	}

	subjectPath, namePath, emailPath := cfg.fields()
	fields := gjson.GetManyBytes(body, subjectPath, namePath, emailPath)

	subject := fields[0].String()
	if subject == "" {
		return nil, fmt.Errorf("%w: field %q is empty", ErrIdentityNotFound, subjectPath)
	}
	return &UserInfo{
		Subject: subject,
		Name:    fields[1].String(),
		Email:   fields[2].String(),
	}, nil
}

func exchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return fmt.Errorf("upstream token request failed: %w", err)
	}

	exchangeErr := &TokenExchangeError{
		Code:        retrieveErr.ErrorCode,
		Description: retrieveErr.ErrorDescription,
		Body:        string(retrieveErr.Body),
	}
	if retrieveErr.Response != nil {
		exchangeErr.StatusCode = retrieveErr.Response.StatusCode
	}
	return exchangeErr
}

func tokensFromOAuth2(tok *oauth2.Token, now time.Time) *Tokens {
	tokens := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    time.Duration(tok.ExpiresIn) * time.Second,
		ExpiresAt:    tok.Expiry,
	}
	if tokens.ExpiresIn == 0 && !tokens.ExpiresAt.IsZero() {
		tokens.ExpiresIn = tokens.ExpiresAt.Sub(now)
	}
	if tokens.ExpiresAt.IsZero() && tokens.ExpiresIn > 0 {
		tokens.ExpiresAt = now.Add(tokens.ExpiresIn)
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	return tokens
}

// NewProvider creates the provider selected by config.Type.
func NewProvider(ctx context.Context, config *Config, opts ...ProviderOption) (OAuth2Provider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	switch config.Type {
	case ProviderTypeOIDC:
		return NewOIDCProvider(ctx, config, opts...)
	case ProviderTypeOAuth2:
		return NewOAuth2Provider(config, opts...)
	default:
		return nil, fmt.Errorf("unknown provider type: %q (must be %q or %q)",
			config.Type, ProviderTypeOIDC, ProviderTypeOAuth2)
	}
}

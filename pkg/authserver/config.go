// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/tableau-broker/pkg/authserver/server"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/token"
	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
	"github.com/stacklok/tableau-broker/pkg/authserver/upstream"
	"github.com/stacklok/tableau-broker/pkg/logger"
)

const (
	// DefaultClientID is the public client identifier handed out by registration.
	DefaultClientID = "tableau-mcp"

	// DefaultBaselineScope is granted when an authorize request names no scope.
	DefaultBaselineScope = "tableau:content:read"
)

// Startup validation errors. Validate wraps one of these with detail.
var (
	ErrMissingServerURL     = errors.New("server URL is required")
	ErrInvalidServerURL     = errors.New("invalid server URL")
	ErrInvalidResourceURL   = errors.New("invalid resource URL")
	ErrMissingSigningSecret = errors.New("signing secret is required")
	ErrWeakSigningSecret    = errors.New("signing secret is too short")
	ErrInvalidUpstream      = errors.New("invalid upstream configuration")
	ErrInvalidLifetimes     = errors.New("invalid token lifetimes")
	ErrInvalidStorage       = errors.New("invalid storage configuration")
)

// Config is the broker configuration. It is passed to New by value and never
// mutated afterwards; zero values take the documented defaults.
type Config struct {
	// Enabled turns the broker on. A disabled broker serves no routes and its
	// middleware lets every request through.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServerURL is the broker's externally reachable base URL. It is the
	// token issuer and the prefix of the upstream callback URL.
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`

	// ResourceURL identifies the protected MCP resource. Defaults to ServerURL.
	ResourceURL string `mapstructure:"resource_url" yaml:"resource_url"`

	// Audience is the bearer credential 'aud'. Defaults to ResourceURL.
	Audience string `mapstructure:"audience" yaml:"audience"`

	// SigningSecret is the HS256 key, at least 32 bytes.
	SigningSecret string `mapstructure:"signing_secret" yaml:"signing_secret"`

	// ClientID is the fixed public client id. Defaults to DefaultClientID.
	ClientID string `mapstructure:"client_id" yaml:"client_id"`

	BaselineScope   string   `mapstructure:"baseline_scope" yaml:"baseline_scope"`
	ScopesSupported []string `mapstructure:"scopes_supported" yaml:"scopes_supported"`

	PendingAuthorizationTTL time.Duration `mapstructure:"pending_authorization_ttl" yaml:"pending_authorization_ttl"`
	AuthCodeTTL             time.Duration `mapstructure:"auth_code_ttl" yaml:"auth_code_ttl"`
	RefreshTokenTTL         time.Duration `mapstructure:"refresh_token_ttl" yaml:"refresh_token_ttl"`

	// TokenExpiryMargin is subtracted from the upstream lifetime (default 30m).
	TokenExpiryMargin time.Duration `mapstructure:"token_expiry_margin" yaml:"token_expiry_margin"`
	// TokenMaxLifetime caps the bearer credential lifetime (default 8h).
	TokenMaxLifetime time.Duration `mapstructure:"token_max_lifetime" yaml:"token_max_lifetime"`

	// RotateRefreshTokens issues a new refresh token on every refresh grant
	// and invalidates the old one.
	RotateRefreshTokens bool `mapstructure:"rotate_refresh_tokens" yaml:"rotate_refresh_tokens"`

	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`

	// Storage selects the store backend. An unset cleanup_interval or
	// max_entries takes the default; a negative value turns it off.
	Storage storage.Config `mapstructure:"storage" yaml:"storage"`
}

// UpstreamConfig configures the enterprise IdP the broker delegates to.
type UpstreamConfig struct {
	// Type is "oidc" or "oauth2". Defaults to oidc when Issuer is set.
	Type string `mapstructure:"type" yaml:"type"`

	// BaseURL is the IdP base URL. Relative endpoints resolve against it,
	// and for oidc it is the issuer unless Issuer is set.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	Issuer                string `mapstructure:"issuer" yaml:"issuer"`
	AuthorizationEndpoint string `mapstructure:"authorization_endpoint" yaml:"authorization_endpoint"`
	TokenEndpoint         string `mapstructure:"token_endpoint" yaml:"token_endpoint"`

	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`

	UserInfo *UserInfoConfig `mapstructure:"userinfo" yaml:"userinfo"`

	// Timeout bounds each upstream HTTP call (default 30s).
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// CABundle is an optional PEM file of extra trusted roots.
	CABundle string `mapstructure:"ca_bundle" yaml:"ca_bundle"`
}

// UserInfoConfig configures upstream identity resolution. Field paths use
// gjson syntax.
type UserInfoConfig struct {
	EndpointURL       string            `mapstructure:"endpoint_url" yaml:"endpoint_url"`
	HTTPMethod        string            `mapstructure:"http_method" yaml:"http_method"`
	AdditionalHeaders map[string]string `mapstructure:"additional_headers" yaml:"additional_headers"`
	SubjectField      string            `mapstructure:"subject_field" yaml:"subject_field"`
	NameField         string            `mapstructure:"name_field" yaml:"name_field"`
	EmailField        string            `mapstructure:"email_field" yaml:"email_field"`
}

// Validate reports the first configuration problem. A disabled
// configuration is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	_, err := c.resolve()
	return err
}

// resolved is a validated Config split into the views each component takes.
type resolved struct {
	server   server.AuthorizationServerConfig
	token    token.Config
	upstream upstream.Config
	storage  storage.Config
}

func (c Config) resolve() (*resolved, error) {
	c.applyDefaults()

	if c.ServerURL == "" {
		return nil, ErrMissingServerURL
	}
	if err := server.ValidateBaseURL("server", c.ServerURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServerURL, err)
	}
	if err := server.ValidateBaseURL("resource", c.ResourceURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResourceURL, err)
	}

	if c.SigningSecret == "" {
		return nil, ErrMissingSigningSecret
	}
	if len(c.SigningSecret) < token.MinSecretLength {
		return nil, fmt.Errorf("%w: must be at least %d bytes, got %d",
			ErrWeakSigningSecret, token.MinSecretLength, len(c.SigningSecret))
	}

	r := &resolved{
		server: server.AuthorizationServerConfig{
			Issuer:                  c.ServerURL,
			ResourceURL:             c.ResourceURL,
			ClientID:                c.ClientID,
			BaselineScope:           c.BaselineScope,
			ScopesSupported:         c.ScopesSupported,
			PendingAuthorizationTTL: c.PendingAuthorizationTTL,
			AuthCodeTTL:             c.AuthCodeTTL,
			RefreshTokenTTL:         c.RefreshTokenTTL,
			RotateRefreshTokens:     c.RotateRefreshTokens,
		},
		token: token.Config{
			Secret:       []byte(c.SigningSecret),
			Issuer:       c.ServerURL,
			Audience:     c.Audience,
			ExpiryMargin: c.TokenExpiryMargin,
			MaxLifetime:  c.TokenMaxLifetime,
		},
		storage: c.Storage,
	}

	if err := r.server.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLifetimes, err)
	}
	if err := r.token.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLifetimes, err)
	}

	up, err := c.Upstream.resolve(r.server.CallbackURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpstream, err)
	}
	r.upstream = *up

	if err := r.storage.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStorage, err)
	}

	logger.Debugw("broker configuration resolved",
		"server_url", c.ServerURL,
		"resource_url", c.ResourceURL,
		"upstream_type", r.upstream.Type,
		"storage_type", r.storage.Type,
	)
	return r, nil
}

// applyDefaults works on the receiver copy taken by resolve.
func (c *Config) applyDefaults() {
	c.ServerURL = strings.TrimSuffix(c.ServerURL, "/")
	c.ResourceURL = strings.TrimSuffix(c.ResourceURL, "/")
	if c.ResourceURL == "" {
		c.ResourceURL = c.ServerURL
	}
	if c.Audience == "" {
		c.Audience = c.ResourceURL
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.BaselineScope == "" {
		c.BaselineScope = DefaultBaselineScope
	}
	if len(c.ScopesSupported) == 0 {
		c.ScopesSupported = []string{c.BaselineScope}
	}
	if c.PendingAuthorizationTTL == 0 {
		c.PendingAuthorizationTTL = storage.DefaultPendingAuthorizationTTL
	}
	if c.AuthCodeTTL == 0 {
		c.AuthCodeTTL = storage.DefaultAuthCodeTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = storage.DefaultRefreshTokenTTL
	}
	c.Storage = storageWithDefaults(c.Storage)
}

// storageWithDefaults fills unset storage fields. Zero selects the default
// cleanup interval and entry cap; a negative value switches the feature off.
func storageWithDefaults(cfg storage.Config) storage.Config {
	defaults := storage.DefaultConfig()
	if cfg.Type == "" {
		cfg.Type = defaults.Type
	}
	switch {
	case cfg.CleanupInterval == 0:
		cfg.CleanupInterval = defaults.CleanupInterval
	case cfg.CleanupInterval < 0:
		cfg.CleanupInterval = 0
	}
	switch {
	case cfg.MaxEntries == 0:
		cfg.MaxEntries = defaults.MaxEntries
	case cfg.MaxEntries < 0:
		cfg.MaxEntries = 0
	}
	if cfg.Type == storage.TypeRedis && cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = defaults.Redis.KeyPrefix
	}
	return cfg
}

func (u UpstreamConfig) resolve(callbackURL string) (*upstream.Config, error) {
	providerType := upstream.ProviderType(u.Type)
	if providerType == "" {
		providerType = upstream.ProviderTypeOAuth2
		if u.Issuer != "" {
			providerType = upstream.ProviderTypeOIDC
		}
	}

	cfg := &upstream.Config{
		Type:         providerType,
		ClientID:     u.ClientID,
		ClientSecret: u.ClientSecret,
		RedirectURI:  callbackURL,
		Scopes:       u.Scopes,
	}

	var err error
	switch providerType {
	case upstream.ProviderTypeOIDC:
		cfg.Issuer = u.Issuer
		if cfg.Issuer == "" {
			cfg.Issuer = strings.TrimSuffix(u.BaseURL, "/")
		}
	case upstream.ProviderTypeOAuth2:
		if cfg.AuthorizationEndpoint, err = resolveEndpoint(u.BaseURL, u.AuthorizationEndpoint); err != nil {
			return nil, fmt.Errorf("authorization_endpoint: %w", err)
		}
		if cfg.TokenEndpoint, err = resolveEndpoint(u.BaseURL, u.TokenEndpoint); err != nil {
			return nil, fmt.Errorf("token_endpoint: %w", err)
		}
	}

	if u.UserInfo != nil {
		endpoint, err := resolveEndpoint(u.BaseURL, u.UserInfo.EndpointURL)
		if err != nil {
			return nil, fmt.Errorf("userinfo endpoint_url: %w", err)
		}
		cfg.UserInfo = &upstream.UserInfoConfig{
			EndpointURL:       endpoint,
			HTTPMethod:        u.UserInfo.HTTPMethod,
			AdditionalHeaders: u.UserInfo.AdditionalHeaders,
			FieldMapping: &upstream.UserInfoFieldMapping{
				SubjectField: u.UserInfo.SubjectField,
				NameField:    u.UserInfo.NameField,
				EmailField:   u.UserInfo.EmailField,
			},
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveEndpoint resolves a relative endpoint against baseURL. Absolute
// endpoints and empty values are returned unchanged.
func resolveEndpoint(baseURL, endpoint string) (string, error) {
	if endpoint == "" || baseURL == "" {
		return endpoint, nil
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return endpoint, nil
	}
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("invalid base_url: %w", err)
	}
	return base.ResolveReference(&url.URL{
		Path:     strings.TrimPrefix(ref.Path, "/"),
		RawQuery: ref.RawQuery,
	}).String(), nil
}

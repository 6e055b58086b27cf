// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server holds the resolved, request-time view of the broker's
// configuration and the OAuth error model shared by its handlers.
package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/tableau-broker/pkg/networking"
)

// Endpoint paths. They are a compatibility surface for MCP clients and the
// upstream IdP's registered redirect URI.
const (
	AuthorizePath = "/oauth/authorize"
	TokenPath     = "/oauth/token"
	RegisterPath  = "/oauth/register"
	CallbackPath  = "/Callback"
)

// AuthorizationServerConfig is what the handlers need at request time.
// It is built once at startup and never mutated.
type AuthorizationServerConfig struct {
	// Issuer is the broker's externally reachable base URL.
	Issuer string

	// ResourceURL identifies the protected MCP resource.
	ResourceURL string

	// ClientID is the fixed public client identifier handed out by registration.
	ClientID string

	// BaselineScope is used when an authorize request carries no scope.
	BaselineScope string

	// ScopesSupported is advertised in discovery metadata.
	ScopesSupported []string

	PendingAuthorizationTTL time.Duration
	AuthCodeTTL             time.Duration
	RefreshTokenTTL         time.Duration

	// RotateRefreshTokens replaces the refresh token on every refresh grant.
	RotateRefreshTokens bool
}

// Validate checks that the configuration is complete.
func (c *AuthorizationServerConfig) Validate() error {
	if err := ValidateBaseURL("issuer", c.Issuer); err != nil {
		return err
	}
	if err := ValidateBaseURL("resource", c.ResourceURL); err != nil {
		return err
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.BaselineScope == "" {
		return errors.New("baseline scope is required")
	}
	if c.PendingAuthorizationTTL <= 0 || c.AuthCodeTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("pending authorization, auth code and refresh token TTLs must be positive")
	}
	return nil
}

// AuthorizationEndpoint returns the absolute authorize URL.
func (c *AuthorizationServerConfig) AuthorizationEndpoint() string {
	return c.Issuer + AuthorizePath
}

// TokenEndpoint returns the absolute token URL.
func (c *AuthorizationServerConfig) TokenEndpoint() string {
	return c.Issuer + TokenPath
}

// RegistrationEndpoint returns the absolute registration URL.
func (c *AuthorizationServerConfig) RegistrationEndpoint() string {
	return c.Issuer + RegisterPath
}

// CallbackURL returns the redirect URI registered at the upstream IdP.
func (c *AuthorizationServerConfig) CallbackURL() string {
	return c.Issuer + CallbackPath
}

// ValidateBaseURL checks that raw is an absolute http(s) URL without query,
// fragment, or trailing slash. Plain http is limited to loopback hosts.
func ValidateBaseURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s URL is required", field)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s URL is not a valid URI: %w", field, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("%s URL must be absolute with a host", field)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("%s URL must not contain a query or fragment", field)
	}
	if strings.HasSuffix(raw, "/") {
		return fmt.Errorf("%s URL must not have a trailing slash", field)
	}
	switch parsed.Scheme {
	case networking.HttpsScheme:
		return nil
	case networking.HttpScheme:
		if networking.IsLoopbackHost(parsed.Hostname()) {
			return nil
		}
		return fmt.Errorf("%s URL must use https (http is only allowed for loopback hosts)", field)
	default:
		return fmt.Errorf("%s URL must use http or https scheme", field)
	}
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/stacklok/tableau-broker/pkg/networking"
)

// Config configures an upstream provider.
type Config struct {
	// Type selects explicit endpoints (oauth2) or discovery (oidc).
	Type ProviderType

	// ClientID is the broker's fixed client identifier at the upstream IdP.
	ClientID string

	// ClientSecret is optional; public upstream clients rely on PKCE alone.
	ClientSecret string

	// RedirectURI is the broker's callback URL registered at the upstream IdP.
	RedirectURI string

	// Scopes requested from the upstream IdP.
	Scopes []string

	// Issuer is required for oidc; endpoints are discovered from it.
	Issuer string

	// AuthorizationEndpoint and TokenEndpoint are required for oauth2.
	AuthorizationEndpoint string
	TokenEndpoint         string

	// UserInfo configures identity resolution. Required for oauth2; for oidc
	// it overrides ID token and discovered userinfo resolution.
	UserInfo *UserInfoConfig
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if err := validateEndpointURL("redirect_uri", c.RedirectURI); err != nil {
		return err
	}

	switch c.Type {
	case ProviderTypeOAuth2:
		if err := validateEndpointURL("authorization_endpoint", c.AuthorizationEndpoint); err != nil {
			return err
		}
		if err := validateEndpointURL("token_endpoint", c.TokenEndpoint); err != nil {
			return err
		}
		if c.UserInfo == nil {
			return errors.New("userinfo configuration is required for oauth2 providers")
		}
	case ProviderTypeOIDC:
		if err := validateEndpointURL("issuer", c.Issuer); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown provider type: %q (must be %q or %q)",
			c.Type, ProviderTypeOIDC, ProviderTypeOAuth2)
	}

	if c.UserInfo != nil {
		if err := c.UserInfo.Validate(); err != nil {
			return fmt.Errorf("invalid userinfo configuration: %w", err)
		}
	}
	return nil
}

// UserInfoFieldMapping maps userinfo response fields to identity fields.
// Each field is a gjson path, so nested values such as "session.user.id"
// are supported.
type UserInfoFieldMapping struct {
	// SubjectField is the path of the user ID (default: "sub").
	SubjectField string

	// NameField is the path of the display name (default: "name").
	NameField string

	// EmailField is the path of the email address (default: "email").
	EmailField string
}

// UserInfoConfig configures the endpoint the broker calls to learn who the
// upstream tokens belong to.
type UserInfoConfig struct {
	// EndpointURL is the URL of the userinfo endpoint (required).
	EndpointURL string

	// HTTPMethod is the HTTP method to use (default: GET).
	HTTPMethod string

	// AdditionalHeaders contains extra headers to include in the request.
	AdditionalHeaders map[string]string

	// FieldMapping contains custom field mapping configuration.
	// If nil, standard OIDC field names are used ("sub", "name", "email").
	FieldMapping *UserInfoFieldMapping
}

// Validate checks the userinfo configuration.
func (c *UserInfoConfig) Validate() error {
	if err := validateEndpointURL("endpoint_url", c.EndpointURL); err != nil {
		return err
	}
	switch c.HTTPMethod {
	case "", http.MethodGet, http.MethodPost:
		return nil
	default:
		return fmt.Errorf("http_method must be GET or POST, got %q", c.HTTPMethod)
	}
}

func (c *UserInfoConfig) fields() (subject, name, email string) {
	subject, name, email = "sub", "name", "email"
	if m := c.FieldMapping; m != nil {
		if m.SubjectField != "" {
			subject = m.SubjectField
		}
		if m.NameField != "" {
			name = m.NameField
		}
		if m.EmailField != "" {
			email = m.EmailField
		}
	}
	return subject, name, email
}

func validateEndpointURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL", field)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL with scheme and host", field)
	}
	if parsed.Scheme != networking.HttpsScheme &&
		!(parsed.Scheme == networking.HttpScheme && networking.IsLoopbackHost(parsed.Hostname())) {
		return fmt.Errorf("%s must use https (http is only allowed for loopback hosts)", field)
	}
	return nil
}

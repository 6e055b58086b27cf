// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/stacklok/tableau-broker/pkg/networking"
)

// RedirectURIPolicy selects which redirect URI forms are acceptable.
type RedirectURIPolicy int

const (
	// RedirectURIPolicyStrict allows https for any host and http for loopback hosts only.
	RedirectURIPolicyStrict RedirectURIPolicy = iota

	// RedirectURIPolicyAllowPrivateSchemes additionally allows private-use URI
	// schemes (RFC 8252 Section 7.1) such as "myapp://callback" for native clients.
	RedirectURIPolicyAllowPrivateSchemes
)

var (
	// ErrInvalidRedirectURI is returned for every rejected redirect URI.
	ErrInvalidRedirectURI = errors.New("invalid redirect_uri")

	// privateSchemePattern is the RFC 3986 scheme grammar, lower-cased.
	privateSchemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.\-]*$`)

	// reservedSchemes are registered schemes that never name a native app callback.
	reservedSchemes = map[string]bool{
		"about":      true,
		"blob":       true,
		"data":       true,
		"file":       true,
		"ftp":        true,
		"ftps":       true,
		"gopher":     true,
		"javascript": true,
		"ldap":       true,
		"mailto":     true,
		"sftp":       true,
		"ssh":        true,
		"tel":        true,
		"vbscript":   true,
		"ws":         true,
		"wss":        true,
	}
)

// ValidateRedirectURI checks uri against policy. The returned error wraps
// ErrInvalidRedirectURI and carries a human-readable reason.
func ValidateRedirectURI(uri string, policy RedirectURIPolicy) error {
	if uri == "" {
		return fmt.Errorf("%w: redirect_uri is empty", ErrInvalidRedirectURI)
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: redirect_uri is not a valid URI", ErrInvalidRedirectURI)
	}
	if parsed.Fragment != "" || strings.Contains(uri, "#") {
		return fmt.Errorf("%w: redirect_uri must not contain a fragment", ErrInvalidRedirectURI)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "":
		return fmt.Errorf("%w: redirect_uri must be absolute", ErrInvalidRedirectURI)
	case "https":
		if parsed.Hostname() == "" {
			return fmt.Errorf("%w: https redirect_uri must have a host", ErrInvalidRedirectURI)
		}
		return nil
	case "http":
		if !networking.IsLoopbackHost(parsed.Hostname()) {
			return fmt.Errorf("%w: http redirect_uri is only allowed for loopback hosts", ErrInvalidRedirectURI)
		}
		return nil
	}

	if policy != RedirectURIPolicyAllowPrivateSchemes {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidRedirectURI, scheme)
	}
	if !privateSchemePattern.MatchString(scheme) || reservedSchemes[scheme] {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidRedirectURI, scheme)
	}
	return nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the caller's upstream credentials from the bearer
// middleware to the handlers behind it.
package auth

import (
	"encoding/json"
	"fmt"
	"time"
)

// UpstreamCredentials are the upstream IdP tokens unpacked from a verified
// bearer credential, together with who they belong to.
type UpstreamCredentials struct {
	// Subject is the upstream user ID (the credential's 'sub' claim).
	Subject string

	// ClientID is the client the credential was issued to.
	ClientID string

	// Scope is the space-separated scope granted to the client.
	Scope string

	// AccessToken is the upstream access token, for calls to downstream APIs.
	// This is redacted in String() and MarshalJSON().
	AccessToken string

	// RefreshToken is the upstream refresh token, if the IdP issued one.
	// This is redacted in String() and MarshalJSON().
	RefreshToken string

	// ExpiresAt is when the bearer credential expires.
	ExpiresAt time.Time
}

// String returns a representation with the tokens left out, so credentials
// can be logged safely.
func (c *UpstreamCredentials) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("UpstreamCredentials{Subject:%q, ClientID:%q}", c.Subject, c.ClientID)
}

// MarshalJSON implements json.Marshaler with the tokens redacted.
func (c *UpstreamCredentials) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}

	type safeCredentials struct {
		Subject      string    `json:"subject"`
		ClientID     string    `json:"clientId"`
		Scope        string    `json:"scope"`
		AccessToken  string    `json:"accessToken"`
		RefreshToken string    `json:"refreshToken"`
		ExpiresAt    time.Time `json:"expiresAt"`
	}

	return json.Marshal(&safeCredentials{
		Subject:      c.Subject,
		ClientID:     c.ClientID,
		Scope:        c.Scope,
		AccessToken:  redact(c.AccessToken),
		RefreshToken: redact(c.RefreshToken),
		ExpiresAt:    c.ExpiresAt,
	})
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "REDACTED"
}

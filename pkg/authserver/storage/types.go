// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the expiring key-value stores behind the broker's
// short-lived protocol state: pending authorizations, authorization codes,
// and refresh tokens. All three share one generic Store abstraction with an
// in-memory and a Redis implementation.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	// Callers cannot tell the two apart.
	ErrNotFound = errors.New("storage: not found")

	// ErrCapacity is returned by the memory store when it is full of live entries.
	ErrCapacity = errors.New("storage: capacity exceeded")

	// ErrInvalidTTL is returned when a non-positive TTL is passed to Set.
	ErrInvalidTTL = errors.New("storage: ttl must be positive")
)

// Store is an expiring key-value map. Every operation is atomic with respect
// to the others for a given key.
type Store[T any] interface {
	// Set stores value under key, replacing any previous value. The entry
	// expires after ttl.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Get returns the live value for key without removing it.
	Get(ctx context.Context, key string) (T, error)

	// Take returns the live value for key and removes it in the same step.
	// Of two concurrent Takes for one key, at most one succeeds.
	Take(ctx context.Context, key string) (T, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}

// User is the identity resolved from the upstream session.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// UpstreamTokens are the tokens the upstream IdP issued for a user.
type UpstreamTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresIn is the upstream access token lifetime as reported at exchange time.
	ExpiresIn time.Duration `json:"expires_in"`
	// ExpiresAt is the absolute upstream access token expiry.
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingAuthorization is the client's authorize request, parked while the
// user authenticates upstream. Keyed by the broker-issued authKey.
type PendingAuthorization struct {
	ClientID                  string `json:"client_id"`
	ClientRedirectURI         string `json:"client_redirect_uri"`
	ClientCodeChallenge       string `json:"client_code_challenge"`
	ClientCodeChallengeMethod string `json:"client_code_challenge_method"`
	ClientState               string `json:"client_state,omitempty"`
	Scope                     string `json:"scope"`

	// UpstreamNonce is bound into the upstream state as "authKey:nonce".
	UpstreamNonce string `json:"upstream_nonce"`
	// UpstreamPKCEVerifier is the broker's own verifier for the upstream hop.
	UpstreamPKCEVerifier string `json:"upstream_pkce_verifier"`

	CreatedAt time.Time `json:"created_at"`
}

// AuthorizationCode binds a broker-issued code to the client's original PKCE
// challenge, the resolved user, and the upstream tokens. Keyed by the code.
type AuthorizationCode struct {
	ClientID            string         `json:"client_id"`
	ClientRedirectURI   string         `json:"client_redirect_uri"`
	ClientCodeChallenge string         `json:"client_code_challenge"`
	Scope               string         `json:"scope"`
	User                User           `json:"user"`
	UpstreamTokens      UpstreamTokens `json:"upstream_tokens"`
	ExpiresAt           time.Time      `json:"expires_at"`
}

// RefreshTokenRecord lets a client mint new bearer credentials without
// repeating the upstream flow. Keyed by the refresh token.
type RefreshTokenRecord struct {
	ClientID       string         `json:"client_id"`
	Scope          string         `json:"scope"`
	User           User           `json:"user"`
	UpstreamTokens UpstreamTokens `json:"upstream_tokens"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// Expired reports whether the code is past its expiry at now.
func (c AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Expired reports whether the record is past its expiry at now.
func (r RefreshTokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

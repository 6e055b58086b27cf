// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token mints and verifies the broker's bearer credential: a compact
// HS256 JWT that carries the upstream IdP tokens as private claims, so a
// protected request needs no server-side session lookup.
package token

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
)

const (
	// MinSecretLength is the minimum HMAC secret length in bytes (RFC 7518 Section 3.2).
	MinSecretLength = 32

	// DefaultExpiryMargin is subtracted from the upstream access token lifetime.
	DefaultExpiryMargin = 30 * time.Minute

	// DefaultMaxLifetime caps the credential lifetime regardless of the upstream grant.
	DefaultMaxLifetime = 8 * time.Hour
)

var (
	// ErrInvalidToken is the only error Verify returns. The cause is logged.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUpstreamExpired is returned by Issue when the upstream access token
	// does not outlive the expiry margin.
	ErrUpstreamExpired = errors.New("upstream access token expires too soon to issue a credential")

	signingMethod = jwt.SigningMethodHS256
)

// Config holds the issuer settings. It is copied by NewIssuer.
type Config struct {
	Secret       []byte
	Issuer       string
	Audience     string
	ExpiryMargin time.Duration
	MaxLifetime  time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretLength, len(c.Secret))
	}
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	if c.ExpiryMargin < 0 {
		return errors.New("expiry margin must not be negative")
	}
	if c.MaxLifetime < 0 {
		return errors.New("max lifetime must not be negative")
	}
	return nil
}

// Claims is the claim set of a bearer credential.
type Claims struct {
	jwt.RegisteredClaims
	UpstreamAccessToken  string `json:"upstream_access_token"`
	UpstreamRefreshToken string `json:"upstream_refresh_token,omitempty"`
	ClientID             string `json:"client_id,omitempty"`
	Scope                string `json:"scope,omitempty"`
}

// IssuedToken is a freshly minted credential.
type IssuedToken struct {
	Token     string
	ExpiresIn time.Duration
	ExpiresAt time.Time
}

// Issuer signs and verifies bearer credentials with a shared secret.
type Issuer struct {
	secret       []byte
	issuer       string
	audience     string
	expiryMargin time.Duration
	maxLifetime  time.Duration
	now          func() time.Time
	parser       *jwt.Parser
}

// NewIssuer validates cfg and applies defaults for zero durations.
func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token configuration: %w", err)
	}

	i := &Issuer{
		secret:       append([]byte(nil), cfg.Secret...),
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		expiryMargin: cfg.ExpiryMargin,
		maxLifetime:  cfg.MaxLifetime,
		now:          cfg.Now,
	}
	if i.expiryMargin == 0 {
		i.expiryMargin = DefaultExpiryMargin
	}
	if i.maxLifetime == 0 {
		i.maxLifetime = DefaultMaxLifetime
	}
	if i.now == nil {
		i.now = time.Now
	}

	i.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	return i, nil
}

// Lifetime returns how long a credential wrapping tokens may live:
// min(remaining upstream lifetime - margin, max lifetime). When the upstream
// did not report a lifetime the max lifetime applies.
func (i *Issuer) Lifetime(tokens storage.UpstreamTokens, now time.Time) time.Duration {
	var remaining time.Duration
	switch {
	case !tokens.ExpiresAt.IsZero():
		remaining = tokens.ExpiresAt.Sub(now)
	case tokens.ExpiresIn > 0:
		remaining = tokens.ExpiresIn
	default:
		return i.maxLifetime
	}
	return min(remaining-i.expiryMargin, i.maxLifetime)
}

// Issue mints a credential for user embedding tokens.
func (i *Issuer) Issue(tokens storage.UpstreamTokens, user storage.User, clientID, scope string) (*IssuedToken, error) {
	if user.ID == "" {
		return nil, errors.New("user id is required")
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("upstream access token is required")
	}

	now := i.now().Truncate(time.Second)
	lifetime := i.Lifetime(tokens, now).Truncate(time.Second)
	if lifetime <= 0 {
		return nil, ErrUpstreamExpired
	}
	expiresAt := now.Add(lifetime)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		UpstreamAccessToken:  tokens.AccessToken,
		UpstreamRefreshToken: tokens.RefreshToken,
		ClientID:             clientID,
		Scope:                scope,
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}
	return &IssuedToken{Token: signed, ExpiresIn: lifetime, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, algorithm, audience, issuer and expiry with no
// leeway. Every failure is reported as ErrInvalidToken.
func (i *Issuer) Verify(signed string) (*Claims, error) {
	claims := &Claims{}
	_, err := i.parser.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		slog.Info("bearer credential rejected", "reason", err.Error())
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.UpstreamAccessToken == "" {
		slog.Info("bearer credential rejected", "reason", "missing subject or upstream access token")
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto holds the PKCE codec (RFC 7636) used on both hops of the
// broker: validating the client's verifier, and proving possession to the
// upstream identity provider with the broker's own verifier.
package crypto

import (
	"crypto/subtle"
	"errors"
	"regexp"

	"golang.org/x/oauth2"
)

// PKCEChallengeMethodS256 is the PKCE challenge method using SHA-256 (RFC 7636).
const PKCEChallengeMethodS256 = "S256"

// ErrEmptyVerifier is returned when a challenge is requested for an empty verifier.
var ErrEmptyVerifier = errors.New("code_verifier must not be empty")

// verifierPattern is the RFC 7636 Section 4.1 code_verifier grammar.
var verifierPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

// GeneratePKCEVerifier generates a cryptographically random code_verifier
// per RFC 7636 Section 4.1 (43 characters of base64url).
// It panics on crypto/rand read failure, as oauth2.GenerateVerifier does.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes BASE64URL(SHA256(verifier)) without padding.
func ComputePKCEChallenge(verifier string) (string, error) {
	if verifier == "" {
		return "", ErrEmptyVerifier
	}
	return oauth2.S256ChallengeFromVerifier(verifier), nil
}

// IsValidVerifier reports whether verifier satisfies the RFC 7636 grammar.
func IsValidVerifier(verifier string) bool {
	return verifierPattern.MatchString(verifier)
}

// VerifyPKCE reports whether the S256 challenge of verifier equals challenge.
// Empty inputs never verify.
func VerifyPKCE(verifier, challenge string) bool {
	if challenge == "" {
		return false
	}
	computed, err := ComputePKCEChallenge(verifier)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

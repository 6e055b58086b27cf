// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/tableau-broker/pkg/oauth"
)

// OAuthError is an RFC 6749 Section 5.2 error with the HTTP status it is
// rendered with. The sentinel values below are templates: use the With*
// methods to derive a request-specific copy.
type OAuthError struct {
	Code        string
	Description string
	StatusCode  int

	cause error
}

// Error implements the error interface.
func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the internal cause, which is logged but never rendered.
func (e *OAuthError) Unwrap() error {
	return e.cause
}

// Is matches any OAuthError with the same code.
func (e *OAuthError) Is(target error) bool {
	var t *OAuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDescription returns a copy with a client-facing description.
func (e *OAuthError) WithDescription(description string) *OAuthError {
	c := *e
	c.Description = description
	return &c
}

// WithDescriptionf is WithDescription with formatting.
func (e *OAuthError) WithDescriptionf(format string, args ...any) *OAuthError {
	return e.WithDescription(fmt.Sprintf(format, args...))
}

// WithCause returns a copy carrying an internal cause.
func (e *OAuthError) WithCause(err error) *OAuthError {
	c := *e
	c.cause = err
	return &c
}

// Response returns the JSON body for the error.
func (e *OAuthError) Response() oauth.ErrorResponse {
	return oauth.ErrorResponse{Error: e.Code, ErrorDescription: e.Description}
}

// Error templates for the codes the broker emits.
var (
	ErrInvalidRequest = &OAuthError{
		Code:        oauth.ErrorInvalidRequest,
		Description: "The request is missing a required parameter or is otherwise malformed.",
		StatusCode:  http.StatusBadRequest,
	}
	ErrUnsupportedResponseType = &OAuthError{
		Code:        oauth.ErrorUnsupportedResponseType,
		Description: "The authorization server only supports response_type=code.",
		StatusCode:  http.StatusBadRequest,
	}
	ErrUnsupportedGrantType = &OAuthError{
		Code:        oauth.ErrorUnsupportedGrantType,
		Description: "The authorization grant type is not supported.",
		StatusCode:  http.StatusBadRequest,
	}
	ErrInvalidGrant = &OAuthError{
		Code:        oauth.ErrorInvalidGrant,
		Description: "The provided authorization grant is invalid, expired, or was already used.",
		StatusCode:  http.StatusBadRequest,
	}
	ErrInvalidToken = &OAuthError{
		Code:        oauth.ErrorInvalidToken,
		Description: "The access token is invalid or expired.",
		StatusCode:  http.StatusUnauthorized,
	}
	ErrAccessDenied = &OAuthError{
		Code:        oauth.ErrorAccessDenied,
		Description: "The user denied the authorization request.",
		StatusCode:  http.StatusBadRequest,
	}
	ErrServerError = &OAuthError{
		Code:        oauth.ErrorServerError,
		Description: "The authorization server encountered an unexpected error.",
		StatusCode:  http.StatusInternalServerError,
	}
)

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/stacklok/tableau-broker/pkg/authserver/server"
)

// writeOAuthError renders err as an RFC 6749 Section 5.2 JSON body. The
// internal cause, if any, is logged and never sent to the client.
func writeOAuthError(w http.ResponseWriter, req *http.Request, err *server.OAuthError) {
	attrs := []any{
		"path", req.URL.Path,
		"error", err.Code,
		"error_description", err.Description,
	}
	if cause := err.Unwrap(); cause != nil {
		attrs = append(attrs, "cause", cause.Error())
	}
	if err.StatusCode >= http.StatusInternalServerError {
		slog.ErrorContext(req.Context(), "oauth request failed", attrs...)
	} else {
		slog.DebugContext(req.Context(), "oauth request rejected", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(err.StatusCode)
	if encErr := json.NewEncoder(w).Encode(err.Response()); encErr != nil {
		slog.Debug("failed to encode OAuth error response", "error", encErr)
	}
}

// writeJSON writes a non-cacheable JSON response.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to encode JSON response", "error", err)
	}
}

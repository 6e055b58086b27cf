// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stacklok/tableau-broker/pkg/authserver/metrics"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/registration"
	"github.com/stacklok/tableau-broker/pkg/logger"
)

// RegisterClientHandler handles POST /oauth/register requests.
// It implements RFC 7591 Dynamic Client Registration for public clients.
// Every client receives the broker's fixed client_id and no secret.
func (h *Handler) RegisterClientHandler(w http.ResponseWriter, req *http.Request) {
	// Limit request body size to prevent DoS attacks
	req.Body = http.MaxBytesReader(w, req.Body, registration.MaxRequestBodySize)

	// Validate Content-Type header (RFC 7591 requires application/json)
	contentType := req.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		h.writeDCRError(w, http.StatusBadRequest, &registration.DCRError{
			Error:            registration.DCRErrorInvalidClientMetadata,
			ErrorDescription: "Content-Type must be application/json",
		})
		return
	}

	var dcrReq registration.DCRRequest
	if err := json.NewDecoder(req.Body).Decode(&dcrReq); err != nil {
		h.writeDCRError(w, http.StatusBadRequest, &registration.DCRError{
			Error:            registration.DCRErrorInvalidClientMetadata,
			ErrorDescription: "invalid JSON request body",
		})
		return
	}

	validated, dcrErr := registration.ValidateDCRRequest(&dcrReq)
	if dcrErr != nil {
		h.writeDCRError(w, http.StatusBadRequest, dcrErr)
		return
	}

	logger.Debugw("registered DCR client",
		"client_name", validated.ClientName,
		"redirect_uri_count", len(validated.RedirectURIs),
	)

	h.metrics.Registration(metrics.ResultSuccess)
	writeJSON(w, http.StatusCreated, registration.NewDCRResponse(h.config.ClientID, validated, h.now()))
}

// writeDCRError writes a DCR error response per RFC 7591 Section 3.2.2.
func (h *Handler) writeDCRError(w http.ResponseWriter, statusCode int, dcrErr *registration.DCRError) {
	h.metrics.Registration(dcrErr.Error)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(dcrErr); err != nil {
		logger.Debugw("failed to encode DCR error response", "error", err)
	}
}

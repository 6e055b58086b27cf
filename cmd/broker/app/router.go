// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/tableau-broker/pkg/auth"
	"github.com/stacklok/tableau-broker/pkg/authserver"
	"github.com/stacklok/tableau-broker/pkg/logger"
)

const serverRequestTimeout = 60 * time.Second

// whoamiResponse describes the caller without exposing upstream tokens.
type whoamiResponse struct {
	Subject   string    `json:"sub"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// newRouter mounts the broker endpoints, a storage-aware health check and a protected
// identity endpoint that exercises the bearer middleware.
func newRouter(broker *authserver.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(serverRequestTimeout),
		requestLogger,
	)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := broker.Ping(req.Context()); err != nil {
			logger.Warnw("health check failed", "error", err)
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	broker.RegisterRoutes(r)
	r.With(broker.Middleware()).Get("/whoami", handleWhoami)

	return r
}

func handleWhoami(w http.ResponseWriter, r *http.Request) {
	creds, ok := auth.UpstreamCredentialsFromContext(r.Context())
	if !ok {
		http.Error(w, "authorization broker disabled", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(whoamiResponse{
		Subject:   creds.Subject,
		ClientID:  creds.ClientID,
		Scope:     creds.Scope,
		ExpiresAt: creds.ExpiresAt.UTC(),
	}); err != nil {
		logger.Errorw("failed to encode whoami response", "error", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		// Query strings are omitted: callback and authorize URLs carry codes.
		logger.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus counters for the authorization broker.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tableau_broker"

// ResultSuccess labels a successful step. Failures use the OAuth error code.
const ResultSuccess = "success"

// Config controls metrics exposure.
type Config struct {
	// EnableMetricsPath serves the registry over HTTP.
	EnableMetricsPath bool

	// IncludeRuntimeMetrics adds Go runtime and process collectors.
	IncludeRuntimeMetrics bool
}

// Metrics holds the broker's collectors.
type Metrics struct {
	authorize        *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	tokenGrants      *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	registrations    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry and returns the handler
// that serves it.
func New(cfg Config) (*Metrics, http.Handler, error) {
	if !cfg.EnableMetricsPath {
		return nil, nil, errors.New("prometheus metrics requires EnableMetricsPath")
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		authorize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorize_requests_total",
			Help:      "Authorization requests by result.",
		}, []string{"result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Upstream IdP callbacks by result.",
		}, []string{"result"}),
		tokenGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_requests_total",
			Help:      "Token endpoint requests by grant type and result.",
		}, []string{"grant_type", "result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bearer_verifications_total",
			Help:      "Bearer credential checks on protected routes by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_registrations_total",
			Help:      "Dynamic client registrations by result.",
		}, []string{"result"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of calls to the upstream IdP.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
	}

	registry.MustRegister(m.authorize, m.callbacks, m.tokenGrants, m.verifications, m.registrations, m.upstreamDuration)
	if cfg.IncludeRuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m, handler, nil
}

// Authorize records an authorize request outcome.
func (m *Metrics) Authorize(result string) {
	if m == nil {
		return
	}
	m.authorize.WithLabelValues(result).Inc()
}

// Callback records a callback outcome.
func (m *Metrics) Callback(result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(result).Inc()
}

// TokenGrant records a token endpoint outcome.
func (m *Metrics) TokenGrant(grantType, result string) {
	if m == nil {
		return
	}
	if grantType == "" {
		grantType = "none"
	}
	m.tokenGrants.WithLabelValues(grantType, result).Inc()
}

// Verification records a bearer check on a protected route.
func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// Registration records a client registration outcome.
func (m *Metrics) Registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

// ObserveUpstream records the duration of an upstream call started at start.
func (m *Metrics) ObserveUpstream(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = "error"
	}
	m.upstreamDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

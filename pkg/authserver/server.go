// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/tableau-broker/pkg/auth/middleware"
	"github.com/stacklok/tableau-broker/pkg/authserver/metrics"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/handlers"
	"github.com/stacklok/tableau-broker/pkg/authserver/server/token"
	"github.com/stacklok/tableau-broker/pkg/authserver/storage"
	"github.com/stacklok/tableau-broker/pkg/authserver/upstream"
	"github.com/stacklok/tableau-broker/pkg/logger"
	"github.com/stacklok/tableau-broker/pkg/networking"
)

// upstreamProviderFactory creates the upstream provider from its resolved
// configuration. Tests substitute it to avoid network discovery.
type upstreamProviderFactory func(ctx context.Context, cfg *upstream.Config, client *http.Client) (upstream.OAuth2Provider, error)

func defaultUpstreamFactory(ctx context.Context, cfg *upstream.Config, client *http.Client) (upstream.OAuth2Provider, error) {
	return upstream.NewProvider(ctx, cfg, upstream.WithHTTPClient(client))
}

// Option configures New.
type Option func(*options)

type options struct {
	metrics         *metrics.Metrics
	stores          *storage.Stores
	upstreamFactory upstreamProviderFactory
	now             func() time.Time
}

// WithMetrics records broker activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithStores uses stores instead of creating them from Config.Storage.
// The broker takes ownership and closes them in Close.
func WithStores(stores *storage.Stores) Option {
	return func(o *options) {
		o.stores = stores
	}
}

// WithUpstreamProvider uses provider instead of building one from
// Config.Upstream. The upstream configuration is still validated.
func WithUpstreamProvider(provider upstream.OAuth2Provider) Option {
	return func(o *options) {
		o.upstreamFactory = func(context.Context, *upstream.Config, *http.Client) (upstream.OAuth2Provider, error) {
			return provider, nil
		}
	}
}

// WithClock overrides the time source of the handlers and the token issuer.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Broker is an assembled authorization broker.
type Broker struct {
	enabled    bool
	handler    *handlers.Handler
	router     http.Handler
	middleware func(http.Handler) http.Handler
	stores     *storage.Stores
	closeOnce  sync.Once
	closeErr   error
}

// New validates cfg and assembles the broker: stores, upstream provider,
// token issuer, route handlers and bearer middleware. A disabled config
// yields a broker that serves nothing and authenticates nobody.
func New(ctx context.Context, cfg Config, opts ...Option) (*Broker, error) {
	o := &options{
		upstreamFactory: defaultUpstreamFactory,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if !cfg.Enabled {
		logger.Infow("authorization broker disabled; protected routes are not authenticated")
		if o.stores != nil {
			_ = o.stores.Close()
		}
		return &Broker{
			router:     http.NotFoundHandler(),
			middleware: func(next http.Handler) http.Handler { return next },
		}, nil
	}

	r, err := cfg.resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid broker configuration: %w", err)
	}

	httpClient, err := networking.NewHttpClientBuilder().
		WithTimeout(cfg.Upstream.Timeout).
		WithCABundle(cfg.Upstream.CABundle).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream HTTP client: %w", err)
	}

	provider, err := o.upstreamFactory(ctx, &r.upstream, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream provider: %w", err)
	}

	r.token.Now = o.now
	issuer, err := token.NewIssuer(r.token)
	if err != nil {
		return nil, err
	}

	stores := o.stores
	if stores == nil {
		stores, err = storage.New(ctx, r.storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	serverConfig := r.server
	h := handlers.NewHandler(&serverConfig, stores, provider, issuer,
		handlers.WithMetrics(o.metrics),
		handlers.WithClock(o.now),
	)

	logger.Infow("authorization broker initialized",
		"issuer", serverConfig.Issuer,
		"resource", serverConfig.ResourceURL,
		"upstream_type", provider.Type(),
		"storage_type", r.storage.Type,
		"rotate_refresh_tokens", serverConfig.RotateRefreshTokens,
	)

	return &Broker{
		enabled: true,
		handler: h,
		router:  h.Routes(),
		middleware: middleware.BearerMiddleware(issuer, middleware.Config{
			Realm:       serverConfig.Issuer,
			ResourceURL: serverConfig.ResourceURL,
			Metrics:     o.metrics,
		}),
		stores: stores,
	}, nil
}

// Enabled reports whether the broker authenticates requests.
func (b *Broker) Enabled() bool {
	return b.enabled
}

// Handler serves the discovery, registration, authorize, callback and token
// endpoints.
func (b *Broker) Handler() http.Handler {
	return b.router
}

// RegisterRoutes mounts the broker endpoints on an existing router.
func (b *Broker) RegisterRoutes(r chi.Router) {
	if !b.enabled {
		return
	}
	b.handler.OAuthRoutes(r)
	b.handler.WellKnownRoutes(r)
}

// Middleware returns the bearer middleware for protected routes.
func (b *Broker) Middleware() func(http.Handler) http.Handler {
	return b.middleware
}

// Ping checks the storage backend. A disabled broker is always healthy.
func (b *Broker) Ping(ctx context.Context) error {
	if b.stores == nil {
		return nil
	}
	return b.stores.Ping(ctx)
}

// Close releases the stores. It is safe to call more than once.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		if b.stores == nil {
			return
		}
		logger.Debugw("closing authorization broker")
		if err := b.stores.Close(); err != nil {
			b.closeErr = fmt.Errorf("failed to close broker storage: %w", err)
		}
	})
	return b.closeErr
}

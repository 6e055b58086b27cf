// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/tableau-broker/pkg/authserver"
	"github.com/stacklok/tableau-broker/pkg/authserver/metrics"
	"github.com/stacklok/tableau-broker/pkg/logger"
)

const (
	defaultGracefulTimeout  = 30 * time.Second
	serverReadTimeout       = 10 * time.Second
	serverReadHeaderTimeout = 10 * time.Second
	serverWriteTimeout      = 75 * time.Second
	serverIdleTimeout       = 120 * time.Second
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization broker",
		Long: `Start the authorization broker HTTP server. Configuration comes from the
file given with --config and from BROKER_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("address", defaultListenAddress, "Address to listen on")
	cmd.Flags().String("metrics-address", defaultMetricsListenAddress, "Address of the Prometheus metrics listener")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics")
	mustBindPFlag(v, "listen_address", cmd.Flags().Lookup("address"))
	mustBindPFlag(v, "metrics.address", cmd.Flags().Lookup("metrics-address"))
	mustBindPFlag(v, "metrics.enabled", cmd.Flags().Lookup("metrics"))

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	var (
		brokerMetrics  *metrics.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		brokerMetrics, metricsHandler, err = metrics.New(metrics.Config{
			EnableMetricsPath:     true,
			IncludeRuntimeMetrics: cfg.Metrics.IncludeRuntimeMetrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	broker, err := authserver.New(ctx, cfg.Config, authserver.WithMetrics(brokerMetrics))
	if err != nil {
		return fmt.Errorf("failed to create authorization broker: %w", err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Errorw("failed to close authorization broker", "error", err)
		}
	}()

	servers := []*http.Server{newHTTPServer(ctx, cfg.ListenAddress, newRouter(broker))}
	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, newHTTPServer(ctx, cfg.Metrics.Address, mux))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Infof("server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server on %s forced to shut down: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Infow("server shutdown complete")
	return nil
}

func newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       serverReadTimeout,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
		// Requests keep the process context values but finish on their own
		// schedule during graceful shutdown.
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
}

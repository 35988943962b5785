// Copyright 2026 The Thunder Text Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thundertext/thundertext/internal/audit"
	"github.com/thundertext/thundertext/internal/config"
	"github.com/thundertext/thundertext/internal/observability/logger"
	"github.com/thundertext/thundertext/internal/observability/metrics"
	"github.com/thundertext/thundertext/internal/observability/tracing"
	"github.com/thundertext/thundertext/internal/store/postgres"
	transportHTTP "github.com/thundertext/thundertext/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	pool := postgres.NewPool(poolConfig(cfg))

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err := runMigrate(pool)
		pool.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := run(cfg, pool); err != nil {
		slog.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func poolConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}
}

func run(cfg *config.Config, pool *postgres.Pool) error {
	slog.Info("starting thundertext tenant gateway",
		"tenant_setting", cfg.Database.TenantSetting,
		"max_conns", cfg.Database.MaxConns,
		"tenant_api", cfg.Server.TenantAPIEnabled,
	)

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer tracer.Shutdown(ctx)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		postgres.NewStatsCollector(pool),
	)

	// Initialize meter; gateway instruments are served on /metrics
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled:        cfg.Observability.MetricsEnabled,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Registerer:     registry,
	}, cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	defer meter.Shutdown(ctx)
	instruments, err := metrics.NewGatewayInstruments(meter)
	if err != nil {
		return fmt.Errorf("failed to create gateway instruments: %w", err)
	}

	// The pool connects on first use; a missing DATABASE_URL surfaces on /health/db.
	defer pool.Close()

	opts := []postgres.GatewayOption{
		postgres.WithAuditLogger(audit.NewSlogLogger()),
		postgres.WithInstruments(instruments),
		postgres.WithTracer(tracer.GetTracer()),
	}
	if cfg.Database.TenantSetting != "" {
		opts = append(opts, postgres.WithTenantSetting(cfg.Database.TenantSetting))
	}
	gateway := postgres.NewGateway(pool, opts...)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	handler := transportHTTP.NewHandler(pool, gateway,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		cfg.Observability.ServiceName,
	)
	router := transportHTTP.NewRouter(handler, rateLimiter, transportHTTP.RouterOptions{
		EnableTenantAPI:   cfg.Server.TenantAPIEnabled,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal or listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
	return nil
}

func runMigrate(pool *postgres.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	slog.Info("applying initial schema", logger.Component("migrate"))
	if err := pool.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	slog.Info("migration successful", logger.Component("migrate"))
	return nil
}

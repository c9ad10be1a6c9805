package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/guard"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/ratelimit"
	"github.com/platinummonkey/warden/pkg/rbac"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "warden")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("warden stopped with an error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	instruments, err := observability.NewGuardInstruments()
	if err != nil {
		return fmt.Errorf("failed to create guard instruments: %w", err)
	}

	stores, err := openStores(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}

	plans, err := loadPlanTable(ctx, cfg.Quota, metrics)
	if err != nil {
		stores.Close()
		return err
	}

	key, err := signingKey(cfg.Auth.SigningKeyPath, logger)
	if err != nil {
		stores.Close()
		return err
	}
	issuer, err := auth.NewTokenIssuer(key, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	if err != nil {
		stores.Close()
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	verifier := auth.NewVerifier(&key.PublicKey, cfg.Auth.Issuer, cfg.Auth.Audience, stores.identities)

	enforcer := quota.NewEnforcer(plans, stores.usage)

	limiter := ratelimit.NewLimiter(stores.windows, ratelimit.Config{
		Window: cfg.RateLimit.Window,
		Max:    cfg.RateLimit.Max,
	}, ratelimit.WithMetrics(metrics), ratelimit.WithLogger(logger))
	if err := limiter.StartPruning(ctx, cfg.RateLimit.PruneSchedule); err != nil {
		stores.Close()
		return err
	}

	auditLogger, err := newAuditLogger(cfg.Audit, stores.db, logger)
	if err != nil {
		stores.Close()
		return err
	}

	chain, err := guard.NewChain(guard.Dependencies{
		Verifier:    verifier,
		Identities:  stores.identities,
		RBAC:        rbac.NewGuard(stores.resources, stores.teams),
		Quota:       enforcer,
		Limiter:     limiter,
		Metrics:     metrics,
		Instruments: instruments,
		Audit:       auditLogger,
		Tracer:      observability.Tracer(),
	})
	if err != nil {
		stores.Close()
		return fmt.Errorf("failed to build guard chain: %w", err)
	}

	server, err := api.NewServer(api.Dependencies{
		Accounts:       auth.NewService(stores.identities, issuer),
		Chain:          chain,
		Identities:     stores.identities,
		Resources:      stores.resources,
		Quota:          enforcer,
		Teams:          stores.teams,
		Audit:          auditLogger,
		Logger:         logger,
		Metrics:        metrics,
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		stores.Close()
		return fmt.Errorf("failed to build API server: %w", err)
	}

	router := server.Router()
	observability.RegisterHealthRoutes(router, stores.healthChecker(version))
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.Handler(registry)).Methods(http.MethodGet)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(router, "warden"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.Register("stores", func(context.Context) error {
		return stores.Close()
	})
	shutdown.Register("audit", func(context.Context) error {
		return auditLogger.Close()
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting warden API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			_ = shutdown.Shutdown()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return shutdown.Wait(ctx)
	}
}

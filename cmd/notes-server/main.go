// Package main is the entrypoint for the m4a-notes gateway.
//
// The gateway authenticates users, answers entitlement and purchase
// questions, receives billing webhooks and forwards transcription traffic
// to the worker API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/api"
	"github.com/productivity-tools/m4a-notes/internal/auth"
	"github.com/productivity-tools/m4a-notes/internal/billing"
	"github.com/productivity-tools/m4a-notes/internal/config"
	"github.com/productivity-tools/m4a-notes/internal/db"
	"github.com/productivity-tools/m4a-notes/internal/entitlement"
	"github.com/productivity-tools/m4a-notes/internal/httpclient"
	"github.com/productivity-tools/m4a-notes/internal/metrics"
	"github.com/productivity-tools/m4a-notes/internal/purchase"
	"github.com/productivity-tools/m4a-notes/internal/storage"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting m4a-notes gateway")

	cfg := config.LoadServerConfig()
	if cfg.InternalSecret == "" {
		logger.Warn().Msg("INTERNAL_API_SECRET is not set; entitlement lookups and purchase validation will fail")
	}
	if cfg.WebhookSecret == "" {
		logger.Warn().Msg("PADDLE_WEBHOOK_SECRET is not set; webhook signatures are not verified")
	}

	workerClient, err := httpclient.New(httpclient.Options{Proxy: &cfg.Proxy, UserAgent: "m4a-notes-gateway/" + Version})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create worker HTTP client")
		return 1
	}
	// Proxied uploads are bounded by the server timeouts, not a client timeout.
	streamClient, err := httpclient.New(httpclient.Options{Timeout: -1, Proxy: &cfg.Proxy})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create proxy transport")
		return 1
	}

	reg := metrics.NewRegistry()
	promMetrics, err := metrics.NewPrometheusMetrics(reg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	catalog := entitlement.DefaultCatalog().WithPriceIDs(cfg.PriceIDs)

	deps := api.Deps{
		Catalog:   catalog,
		Transport: streamClient.Transport,
		Metrics:   promMetrics,
	}

	var source entitlement.Source
	intakeCfg := billing.IntakeConfig{Catalog: catalog, Metrics: promMetrics, Logger: logger}

	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to database")
			return 1
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to run database migrations")
			return 1
		}

		source = entitlement.SourceFunc(database.GetEntitlement)
		deps.Store = database
		deps.Health = database
		intakeCfg.Store = database
		intakeCfg.Events = database
	} else {
		logger.Info().Str("worker_url", cfg.WorkerURL).Msg("DATABASE_URL not set; entitlements are read from the worker")
		source = entitlement.NewHTTPSource(cfg.WorkerURL, cfg.InternalSecret, workerClient)
		probeWorker(ctx, cfg, workerClient, logger)
	}

	deps.Entitlements = entitlement.NewClient(source, logger, promMetrics)
	deps.Validator = purchase.NewValidator(purchase.ValidatorConfig{
		Entitlements:   deps.Entitlements,
		Catalog:        catalog,
		InternalSecret: cfg.InternalSecret,
		Metrics:        promMetrics,
		Logger:         logger,
	})
	deps.Intake = billing.NewIntake(intakeCfg)

	if cfg.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCAudience, logger)
		if err != nil {
			logger.Error().Err(err).Str("issuer", cfg.OIDCIssuer).Msg("Failed to initialize OIDC provider")
			return 1
		}
		deps.Verifier = verifier
	} else {
		if cfg.IsProduction() {
			logger.Error().Msg("OIDC_ISSUER is required in production")
			return 1
		}
		logger.Warn().Msg("OIDC_ISSUER not set; bearer tokens are accepted as user ids")
		deps.Verifier = auth.DevVerifier{}
	}

	if cfg.Storage.Enabled() {
		presigner, err := storage.NewPresigner(ctx, cfg.Storage)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to initialize upload storage")
			return 1
		}
		deps.Presigner = presigner
		logger.Info().Str("bucket", cfg.Storage.Bucket).Msg("Upload URLs are issued locally")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	routerCfg := api.Config{
		Environment:       cfg.Environment,
		AllowedOrigins:    cfg.AllowOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		MaxAudioBodyBytes: cfg.MaxAudioBodyBytes(),
		WorkerURL:         cfg.WorkerURL,
		InternalSecret:    cfg.InternalSecret,
		WebhookSecret:     cfg.WebhookSecret,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	}
	router, err := api.NewRouter(routerCfg, deps, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("env", string(cfg.Environment)).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		return 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}

// probeWorker logs whether the worker API answers. Startup continues either way.
func probeWorker(ctx context.Context, cfg config.ServerConfig, client *http.Client, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	endpoint := cfg.WorkerEndpoint("/health")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid worker URL")
		return
	}
	req.Header = cfg.InternalHeaders()

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Worker API unreachable")
		return
	}
	resp.Body.Close()
	logger.Info().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("Worker API reachable")
}

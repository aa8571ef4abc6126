// Package api assembles the m4a-notes gateway router.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/api/handlers"
	"github.com/productivity-tools/m4a-notes/internal/api/middleware"
	"github.com/productivity-tools/m4a-notes/internal/auth"
	"github.com/productivity-tools/m4a-notes/internal/config"
	"github.com/productivity-tools/m4a-notes/internal/entitlement"
	"github.com/productivity-tools/m4a-notes/internal/metrics"
	"github.com/productivity-tools/m4a-notes/internal/purchase"
)

const (
	// DefaultMaxBodyBytes caps JSON request bodies.
	DefaultMaxBodyBytes = 1 << 20
	// DefaultMaxAudioBodyBytes caps proxied multipart uploads: the 25 MB
	// audio limit plus room for multipart framing.
	DefaultMaxAudioBodyBytes = 26 << 20
)

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed outside production.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// MaxAudioBodyBytes caps /api/upload-and-process bodies. Zero uses
	// DefaultMaxAudioBodyBytes. Clients raising their file size limit need
	// this raised to match.
	MaxAudioBodyBytes int64

	WorkerURL      string
	InternalSecret string
	WebhookSecret  string

	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		MaxAudioBodyBytes: DefaultMaxAudioBodyBytes,
		WorkerURL:         config.DevelopmentWorkerURL,
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Deps are the components the router serves. Optional members may be nil:
// without Store the entitlement lookup is proxied, without Presigner the
// uploads route is proxied.
type Deps struct {
	Verifier     auth.TokenVerifier
	Entitlements *entitlement.Client
	Catalog      *entitlement.Catalog
	Validator    *purchase.Validator
	Intake       handlers.EventDispatcher

	Store     handlers.EntitlementStore
	Health    handlers.DatabaseHealthChecker
	Presigner handlers.UploadPresigner

	Transport http.RoundTripper
	Metrics   *metrics.PrometheusMetrics
}

// Router wraps a gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Deps, logger zerolog.Logger) (*Router, error) {
	if deps.Verifier == nil {
		return nil, errors.New("api: token verifier is required")
	}
	if deps.Entitlements == nil || deps.Validator == nil || deps.Intake == nil {
		return nil, errors.New("api: entitlement client, validator and intake are required")
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	cors, err := middleware.CORS(cfg.AllowedOrigins, cfg.Environment, logger)
	if err != nil {
		return nil, err
	}
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	worker, err := handlers.NewWorkerProxy(cfg.WorkerURL, cfg.InternalSecret, deps.Transport, deps.Metrics, logger)
	if err != nil {
		return nil, err
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(deps.Metrics.Middleware())
	r.Engine.Use(cors)
	r.Engine.Use(middleware.AuthMiddleware(deps.Verifier, logger))
	r.Engine.Use(middleware.RequestLogger(logger))

	handlers.NewHealthHandler(deps.Health, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate).RegisterPublicRoutes(r.Engine)
	r.Engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := r.Engine.Group("/api")

	// The billing provider retries on non-2xx, so the webhook sits outside the limiter.
	webhook := api.Group("")
	webhook.Use(middleware.BodyLimitMiddleware(DefaultMaxBodyBytes))
	handlers.NewWebhookHandler(deps.Intake, cfg.WebhookSecret, logger).RegisterRoutes(webhook)

	limited := api.Group("")
	limited.Use(rateLimiter)

	maxAudio := cfg.MaxAudioBodyBytes
	if maxAudio <= 0 {
		maxAudio = DefaultMaxAudioBodyBytes
	}
	audio := limited.Group("")
	audio.Use(middleware.BodyLimitMiddleware(maxAudio), middleware.RequireUser())
	audio.POST("/upload-and-process", worker.Handle)

	jsonAPI := limited.Group("")
	jsonAPI.Use(middleware.BodyLimitMiddleware(DefaultMaxBodyBytes))

	entitlements := handlers.NewEntitlementsHandler(deps.Entitlements, deps.Store, cfg.InternalSecret != "", logger)
	entitlements.RegisterRoutes(jsonAPI)
	if deps.Store != nil {
		internal := jsonAPI.Group("")
		internal.Use(middleware.RequireInternalSecret(cfg.InternalSecret, logger))
		entitlements.RegisterInternalRoutes(internal)
	} else {
		jsonAPI.GET("/entitlements/:userId", worker.Handle)
	}

	handlers.NewPurchaseHandler(deps.Validator, logger).RegisterRoutes(jsonAPI)
	handlers.NewPlansHandler(deps.Catalog, deps.Entitlements).RegisterRoutes(jsonAPI)

	// proxied routes scoped to the caller
	userAPI := jsonAPI.Group("")
	userAPI.Use(middleware.RequireUser())

	if deps.Presigner != nil {
		handlers.NewUploadsHandler(deps.Presigner, deps.Metrics, logger).RegisterRoutes(jsonAPI)
	} else {
		userAPI.POST("/uploads", worker.Handle)
	}

	worker.RegisterRoutes(userAPI)
	worker.RegisterPublicRoutes(jsonAPI)

	r.logger.Info().
		Bool("local_entitlements", deps.Store != nil).
		Bool("local_uploads", deps.Presigner != nil).
		Str("worker_url", cfg.WorkerURL).
		Int64("max_audio_bytes", maxAudio).
		Msg("API router initialized")
	return r, nil
}

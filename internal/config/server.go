// Package config provides configuration management for the m4a-notes gateway and CLI.
package config

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

const (
	// ProductionWorkerURL is the worker API used when ENV=production.
	ProductionWorkerURL = "https://m4a-to-notes.productivity-tools.workers.dev/api"
	// DevelopmentWorkerURL is the local worker API used outside production.
	DevelopmentWorkerURL = "http://localhost:8787/api"

	// InternalSecretHeader carries the shared secret on server-to-server calls.
	InternalSecretHeader = "X-Internal-Secret"
)

// StorageConfig holds object storage settings used to issue pre-authorized upload URLs.
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for R2, MinIO and other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string
	PresignTTL      time.Duration
}

// Enabled reports whether local upload URL issuance is configured.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

// ServerConfig holds gateway configuration loaded from environment variables.
// It is built once at startup and passed to every component that needs it.
type ServerConfig struct {
	Environment  Environment
	ListenAddr   string
	WorkerURL    string
	DatabaseURL  string
	AllowOrigins []string

	// InternalSecret authenticates calls to the worker's entitlement store.
	InternalSecret string
	// WebhookSecret enables Paddle-Signature verification when set.
	WebhookSecret string
	// PriceIDs overrides catalog price ids keyed by plan ("pro", "business").
	PriceIDs map[string]string

	OIDCIssuer   string
	OIDCAudience string

	RateLimitRequests int64
	RateLimitPeriod   string

	// MaxUploadMB is the largest audio file accepted on the combined pipeline.
	MaxUploadMB int64

	Storage StorageConfig
	Proxy   ProxyConfig
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	workerURL := strings.TrimRight(os.Getenv("WORKER_BASE_URL"), "/")
	if workerURL == "" {
		workerURL = DefaultWorkerURL(env)
	}

	rateLimit := int64(getEnvInt("RATE_LIMIT_REQUESTS", 100))
	if rateLimit <= 0 {
		rateLimit = 100
	}

	maxUpload := int64(getEnvInt("MAX_UPLOAD_MB", DefaultMaxFileSizeMB))
	if maxUpload <= 0 {
		maxUpload = DefaultMaxFileSizeMB
	}

	priceIDs := map[string]string{}
	if v := strings.TrimSpace(os.Getenv("PADDLE_PRICE_PRO")); v != "" {
		priceIDs["pro"] = v
	}
	if v := strings.TrimSpace(os.Getenv("PADDLE_PRICE_BUSINESS")); v != "" {
		priceIDs["business"] = v
	}

	return ServerConfig{
		Environment:       env,
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		WorkerURL:         workerURL,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		AllowOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
		InternalSecret:    os.Getenv("INTERNAL_API_SECRET"),
		WebhookSecret:     os.Getenv("PADDLE_WEBHOOK_SECRET"),
		PriceIDs:          priceIDs,
		OIDCIssuer:        os.Getenv("OIDC_ISSUER"),
		OIDCAudience:      os.Getenv("OIDC_AUDIENCE"),
		RateLimitRequests: rateLimit,
		RateLimitPeriod:   getEnv("RATE_LIMIT_PERIOD", "1m"),
		MaxUploadMB:       maxUpload,
		Storage: StorageConfig{
			Bucket:          os.Getenv("STORAGE_BUCKET"),
			Region:          getEnv("STORAGE_REGION", "auto"),
			Endpoint:        os.Getenv("STORAGE_ENDPOINT"),
			AccessKeyID:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
			KeyPrefix:       os.Getenv("STORAGE_KEY_PREFIX"),
			PresignTTL:      getEnvDuration("STORAGE_PRESIGN_TTL", 15*time.Minute),
		},
		Proxy: ProxyFromEnv(),
	}
}

// DefaultWorkerURL returns the worker API base for the given environment.
func DefaultWorkerURL(env Environment) string {
	if env == EnvProduction {
		return ProductionWorkerURL
	}
	return DevelopmentWorkerURL
}

// WorkerEndpoint joins an endpoint path onto the worker base URL.
func (c ServerConfig) WorkerEndpoint(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.WorkerURL + endpoint
}

// InternalHeaders returns the headers used on server-to-server worker calls.
func (c ServerConfig) InternalHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.InternalSecret != "" {
		h.Set(InternalSecretHeader, c.InternalSecret)
	}
	return h
}

// MaxAudioBodyBytes is the request body cap for combined uploads: the file
// limit plus one megabyte of multipart framing.
func (c ServerConfig) MaxAudioBodyBytes() int64 {
	return (c.MaxUploadMB + 1) << 20
}

// IsProduction reports whether the gateway runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvList splits a comma-separated environment variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

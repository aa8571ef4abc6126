package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadServerConfig_DefaultEnvironment(t *testing.T) {
	os.Unsetenv("ENV")
	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("ENV", "invalid")
	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q for invalid ENV, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_WorkerURL(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		override string
		want     string
	}{
		{"development default", "development", "", DevelopmentWorkerURL},
		{"staging uses local worker", "staging", "", DevelopmentWorkerURL},
		{"production default", "production", "", ProductionWorkerURL},
		{"override trims slash", "production", "https://worker.internal/api/", "https://worker.internal/api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("WORKER_BASE_URL", tt.override)
			cfg := LoadServerConfig()
			if cfg.WorkerURL != tt.want {
				t.Errorf("expected %q, got %q", tt.want, cfg.WorkerURL)
			}
		})
	}
}

func TestServerConfig_WorkerEndpoint(t *testing.T) {
	cfg := ServerConfig{WorkerURL: "http://localhost:8787/api"}
	if got := cfg.WorkerEndpoint("/entitlements/u1"); got != "http://localhost:8787/api/entitlements/u1" {
		t.Errorf("unexpected endpoint %q", got)
	}
	if got := cfg.WorkerEndpoint("health"); got != "http://localhost:8787/api/health" {
		t.Errorf("unexpected endpoint %q", got)
	}
}

func TestServerConfig_InternalHeaders(t *testing.T) {
	cfg := ServerConfig{InternalSecret: "s3cret"}
	h := cfg.InternalHeaders()
	if h.Get(InternalSecretHeader) != "s3cret" {
		t.Errorf("expected secret header, got %q", h.Get(InternalSecretHeader))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("expected json content type, got %q", h.Get("Content-Type"))
	}

	empty := ServerConfig{}.InternalHeaders()
	if _, ok := empty[InternalSecretHeader]; ok {
		t.Error("secret header should be absent when no secret is configured")
	}
}

func TestLoadServerConfig_Values(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RATE_LIMIT_REQUESTS", "-3")
	t.Setenv("PADDLE_PRICE_BUSINESS", "pri_business")
	t.Setenv("STORAGE_BUCKET", "uploads")
	t.Setenv("STORAGE_PRESIGN_TTL", "bogus")

	cfg := LoadServerConfig()
	if !cfg.IsProduction() {
		t.Error("expected production")
	}
	if len(cfg.AllowOrigins) != 2 || cfg.AllowOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowOrigins)
	}
	if cfg.RateLimitRequests != 100 {
		t.Errorf("expected rate limit fallback 100, got %d", cfg.RateLimitRequests)
	}
	if cfg.PriceIDs["business"] != "pri_business" {
		t.Errorf("expected business price override, got %v", cfg.PriceIDs)
	}
	if _, ok := cfg.PriceIDs["pro"]; ok {
		t.Error("pro price should not be overridden")
	}
	if !cfg.Storage.Enabled() {
		t.Error("expected storage enabled")
	}
	if cfg.Storage.PresignTTL != 15*time.Minute {
		t.Errorf("expected default ttl, got %s", cfg.Storage.PresignTTL)
	}
	if cfg.MaxUploadMB != DefaultMaxFileSizeMB {
		t.Errorf("expected default upload limit, got %d", cfg.MaxUploadMB)
	}
}

func TestLoadServerConfig_MaxUpload(t *testing.T) {
	tests := []struct {
		env  string
		want int64
	}{
		{"", 25},
		{"100", 100},
		{"0", 25},
		{"lots", 25},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("MAX_UPLOAD_MB", tt.env)
			cfg := LoadServerConfig()
			if cfg.MaxUploadMB != tt.want {
				t.Errorf("MaxUploadMB = %d, want %d", cfg.MaxUploadMB, tt.want)
			}
			if got := cfg.MaxAudioBodyBytes(); got != (tt.want+1)<<20 {
				t.Errorf("MaxAudioBodyBytes = %d", got)
			}
		})
	}
}

func TestProxyConfig_HasProxy(t *testing.T) {
	var nilCfg *ProxyConfig
	if nilCfg.HasProxy() {
		t.Error("nil config has no proxy")
	}
	if (&ProxyConfig{NoProxy: "localhost"}).HasProxy() {
		t.Error("no_proxy alone is not a proxy")
	}
	if !(&ProxyConfig{SOCKS5Proxy: "127.0.0.1:1080"}).HasProxy() {
		t.Error("socks5 should count as a proxy")
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productivity-tools/m4a-notes/internal/auth"
	"github.com/productivity-tools/m4a-notes/internal/billing"
	"github.com/productivity-tools/m4a-notes/internal/config"
	"github.com/productivity-tools/m4a-notes/internal/entitlement"
	"github.com/productivity-tools/m4a-notes/internal/metrics"
	"github.com/productivity-tools/m4a-notes/internal/purchase"
	"github.com/productivity-tools/m4a-notes/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingDispatcher struct {
	mu sync.Mutex
	n  int
}

func (d *countingDispatcher) Dispatch(context.Context, billing.Event) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	return billing.ResultHandled, nil
}

type memoryStore map[string]entitlement.Entitlement

func (m memoryStore) GetEntitlement(_ context.Context, userID string) (*entitlement.Entitlement, error) {
	e, ok := m[userID]
	if !ok {
		return nil, entitlement.ErrNotFound
	}
	return &e, nil
}

type fixedPresigner struct{}

func (fixedPresigner) PresignUpload(_ context.Context, userID, fileName, _ string) (storage.Upload, error) {
	return storage.Upload{
		UploadURL: "https://storage.example.com/" + fileName,
		ObjectKey: "uploads/" + userID + "/" + fileName,
		ExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

// workerStub answers every request with the proxied path so routing can be asserted.
func workerStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"proxied": r.URL.Path})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testDeps(store memoryStore, presigner bool) Deps {
	source := entitlement.SourceFunc(func(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
		return store.GetEntitlement(ctx, userID)
	})
	client := entitlement.NewClient(source, zerolog.Nop(), nil)
	deps := Deps{
		Verifier:     auth.DevVerifier{},
		Entitlements: client,
		Validator: purchase.NewValidator(purchase.ValidatorConfig{
			Entitlements:   client,
			InternalSecret: "internal",
			Logger:         zerolog.Nop(),
		}),
		Intake: &countingDispatcher{},
	}
	if store != nil {
		deps.Store = store
	}
	if presigner {
		deps.Presigner = fixedPresigner{}
	}
	return deps
}

func testConfig(workerURL string) Config {
	cfg := DefaultConfig()
	cfg.WorkerURL = workerURL + "/api"
	cfg.InternalSecret = "internal"
	cfg.RateLimitRequests = 3
	cfg.RateLimitPeriod = "1m"
	cfg.Version = "1.2.3"
	return cfg
}

func serve(r *Router, method, path, user string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestNewRouter_Validation(t *testing.T) {
	worker := workerStub(t)

	tests := []struct {
		name   string
		mutate func(*Config, *Deps)
	}{
		{"missing verifier", func(_ *Config, d *Deps) { d.Verifier = nil }},
		{"missing intake", func(_ *Config, d *Deps) { d.Intake = nil }},
		{"production without origins", func(c *Config, _ *Deps) { c.Environment = config.EnvProduction }},
		{"bad rate period", func(c *Config, _ *Deps) { c.RateLimitPeriod = "often" }},
		{"bad worker url", func(c *Config, _ *Deps) { c.WorkerURL = "localhost" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(worker.URL)
			deps := testDeps(memoryStore{}, false)
			tt.mutate(&cfg, &deps)
			_, err := NewRouter(cfg, deps, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	worker := workerStub(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheusMetrics(reg)
	require.NoError(t, err)

	deps := testDeps(memoryStore{}, false)
	deps.Metrics = m
	r, err := NewRouter(testConfig(worker.URL), deps, zerolog.Nop())
	require.NoError(t, err)

	w := serve(r, "GET", "/health", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = serve(r, "GET", "/version", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"1.2.3"`)

	w = serve(r, "GET", "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "m4a_notes_http_requests_total")
}

func TestRouter_LocalAndProxiedRoutes(t *testing.T) {
	worker := workerStub(t)
	store := memoryStore{"user_pro": {UserID: "user_pro", Plan: entitlement.PlanPro, Status: entitlement.StatusActive}}
	internal := http.Header{config.InternalSecretHeader: []string{"internal"}}

	tests := []struct {
		name      string
		store     memoryStore
		presigner bool
		method    string
		path      string
		user      string
		body      []byte
		header    http.Header
		wantCode  int
		wantBody  string
	}{
		{"local lookup", store, false, "GET", "/api/entitlements/user_pro", "", nil, internal, http.StatusOK, `"plan":"pro"`},
		{"local lookup needs secret", store, false, "GET", "/api/entitlements/user_pro", "", nil, nil, http.StatusUnauthorized, "Unauthorized"},
		{"proxied lookup", nil, false, "GET", "/api/entitlements/user_pro", "", nil, internal, http.StatusOK, `"proxied":"/api/entitlements/user_pro"`},
		{"local uploads", store, true, "POST", "/api/uploads", "user_1", []byte(`{"fileName":"a.m4a"}`), nil, http.StatusOK, `"objectKey":"uploads/user_1/a.m4a"`},
		{"proxied uploads", store, false, "POST", "/api/uploads", "user_1", []byte(`{"fileName":"a.m4a"}`), nil, http.StatusOK, `"proxied":"/api/uploads"`},
		{"job status proxied", store, false, "GET", "/api/jobs/job-1", "user_1", nil, nil, http.StatusOK, `"proxied":"/api/jobs/job-1"`},
		{"job status needs a user", store, false, "GET", "/api/jobs/job-1", "", nil, nil, http.StatusUnauthorized, "Unauthorized"},
		{"proxied uploads need a user", store, false, "POST", "/api/uploads", "", []byte(`{"fileName":"a.m4a"}`), nil, http.StatusUnauthorized, "Unauthorized"},
		{"combined upload needs a user", store, false, "POST", "/api/upload-and-process", "", []byte("audio"), nil, http.StatusUnauthorized, "Unauthorized"},
		{"worker health is public", store, false, "GET", "/api/health", "", nil, nil, http.StatusOK, `"proxied":"/api/health"`},
		{"billing passthrough is public", store, false, "POST", "/api/paddle/checkout", "", []byte(`{}`), nil, http.StatusOK, `"proxied":"/api/paddle/checkout"`},
		{"own entitlements", store, false, "GET", "/api/me/entitlements", "user_pro", nil, nil, http.StatusOK, `"plan":"pro"`},
		{"plans", store, false, "GET", "/api/plans", "", nil, nil, http.StatusOK, `"currentPlan":"free"`},
		{"purchase", store, false, "POST", "/api/validate-purchase", "user_pro", []byte(`{"planKey":"pro"}`), nil, http.StatusOK, `"reason":"already_subscribed"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRouter(testConfig(worker.URL), testDeps(tt.store, tt.presigner), zerolog.Nop())
			require.NoError(t, err)

			w := serve(r, tt.method, tt.path, tt.user, tt.body, tt.header)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRouter_RateLimitSparesWebhook(t *testing.T) {
	worker := workerStub(t)
	deps := testDeps(memoryStore{}, false)
	intake := deps.Intake.(*countingDispatcher)
	r, err := NewRouter(testConfig(worker.URL), deps, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		w := serve(r, "GET", "/api/plans", "", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := serve(r, "GET", "/api/plans", "", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	event := []byte(`{"event_id":"evt_1","event_type":"subscription.updated","data":{}}`)
	for i := 0; i < 5; i++ {
		w := serve(r, "POST", "/api/webhook", "", event, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 5, intake.n)
}

func TestRouter_AudioBodyLimit(t *testing.T) {
	worker := workerStub(t)
	r, err := NewRouter(testConfig(worker.URL), testDeps(memoryStore{}, false), zerolog.Nop())
	require.NoError(t, err)

	w := serve(r, "POST", "/api/upload-and-process", "user_1", []byte(strings.Repeat("a", 2<<20)), nil)
	assert.Equal(t, http.StatusOK, w.Code, "uploads above the JSON cap pass")

	w = serve(r, "POST", "/api/validate-purchase", "user_1", []byte(strings.Repeat("a", 2<<20)), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(r, "POST", "/api/upload-and-process", "user_1", []byte(strings.Repeat("a", 30<<20)), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, "default cap is 26 MB")
}

func TestRouter_AudioBodyLimitFromConfig(t *testing.T) {
	worker := workerStub(t)
	cfg := testConfig(worker.URL)
	cfg.MaxAudioBodyBytes = (100 + 1) << 20
	r, err := NewRouter(cfg, testDeps(memoryStore{}, false), zerolog.Nop())
	require.NoError(t, err)

	w := serve(r, "POST", "/api/upload-and-process", "user_1", []byte(strings.Repeat("a", 30<<20)), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

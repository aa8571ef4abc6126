package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/api/middleware"
	"github.com/productivity-tools/m4a-notes/internal/config"
	"github.com/productivity-tools/m4a-notes/internal/metrics"
)

// UserIDHeader tells the worker which authenticated user a proxied call is for.
const UserIDHeader = "X-User-ID"

type proxyCtxKey struct{}

type proxyInfo struct {
	userID string
	route  string
}

// WorkerProxy forwards /api/* routes to the transcription worker. Client
// supplied internal headers are dropped and replaced with the gateway's.
type WorkerProxy struct {
	proxy   *httputil.ReverseProxy
	metrics *metrics.PrometheusMetrics
	logger  zerolog.Logger
}

// NewWorkerProxy creates a proxy to workerURL (which includes the worker's
// /api base path). transport may be nil.
func NewWorkerProxy(workerURL, secret string, transport http.RoundTripper, m *metrics.PrometheusMetrics, logger zerolog.Logger) (*WorkerProxy, error) {
	target, err := url.Parse(strings.TrimRight(workerURL, "/"))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid worker URL %q", workerURL)
	}

	p := &WorkerProxy{
		metrics: m,
		logger:  logger.With().Str("component", "worker_proxy").Logger(),
	}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = target.Path + strings.TrimPrefix(pr.In.URL.Path, "/api")
			pr.Out.URL.RawPath = ""
			pr.Out.Host = target.Host
			pr.SetXForwarded()

			pr.Out.Header.Del(config.InternalSecretHeader)
			pr.Out.Header.Del(UserIDHeader)
			if secret != "" {
				pr.Out.Header.Set(config.InternalSecretHeader, secret)
			}
			if info, ok := pr.In.Context().Value(proxyCtxKey{}).(proxyInfo); ok && info.userID != "" {
				pr.Out.Header.Set(UserIDHeader, info.userID)
			}
		},
		Transport:    transport,
		ErrorHandler: p.handleError,
	}
	return p, nil
}

// Handle forwards the request.
func (p *WorkerProxy) Handle(c *gin.Context) {
	info := proxyInfo{userID: middleware.UserID(c), route: c.FullPath()}
	req := c.Request.WithContext(context.WithValue(c.Request.Context(), proxyCtxKey{}, info))
	p.proxy.ServeHTTP(c.Writer, req)
}

// RegisterRoutes proxies the worker's per-user job and transcript routes.
func (p *WorkerProxy) RegisterRoutes(r gin.IRouter) {
	r.Any("/jobs", p.Handle)
	r.Any("/jobs/:id", p.Handle)
	r.Any("/transcripts/:id", p.Handle)
	r.Any("/transcriptions/*path", p.Handle)
}

// RegisterPublicRoutes proxies the worker's health and billing routes.
func (p *WorkerProxy) RegisterPublicRoutes(r gin.IRouter) {
	r.Any("/health", p.Handle)
	r.Any("/paddle/*path", p.Handle)
}

func (p *WorkerProxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	route := r.URL.Path
	if info, ok := r.Context().Value(proxyCtxKey{}).(proxyInfo); ok && info.route != "" {
		route = info.route
	}
	if r.Context().Err() != nil {
		p.logger.Debug().Err(err).Str("route", route).Msg("client went away during proxied request")
		return
	}

	p.metrics.RecordProxyError(route)
	p.logger.Error().Err(err).Str("route", route).Str("method", r.Method).Msg("worker request failed")

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Worker unavailable"})
}

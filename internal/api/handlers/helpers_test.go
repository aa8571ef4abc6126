package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/api/middleware"
	"github.com/productivity-tools/m4a-notes/internal/auth"
	"github.com/productivity-tools/m4a-notes/internal/entitlement"
)

const proPriceID = "pri_01k399jhfp27dnef4eah1z28y2"

// newTestEngine returns an engine whose bearer tokens are taken as user ids.
func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.AuthMiddleware(auth.DevVerifier{}, zerolog.Nop()))
	return r
}

// entitlementsFor returns a client backed by a fixed map; unknown users are not found.
func entitlementsFor(known map[string]entitlement.Entitlement) *entitlement.Client {
	return entitlement.NewClient(entitlement.SourceFunc(func(_ context.Context, userID string) (*entitlement.Entitlement, error) {
		e, ok := known[userID]
		if !ok {
			return nil, entitlement.ErrNotFound
		}
		return &e, nil
	}), zerolog.Nop(), nil)
}

// failingEntitlements returns a client whose source always errors.
func failingEntitlements() *entitlement.Client {
	return entitlement.NewClient(entitlement.SourceFunc(func(context.Context, string) (*entitlement.Entitlement, error) {
		return nil, errors.New("worker unavailable")
	}), zerolog.Nop(), nil)
}

func doRequest(t *testing.T, r http.Handler, method, path, user string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newHTTPServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// counterValue returns the value of the counter named name whose label matches.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

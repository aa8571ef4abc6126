package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestVersionGet(t *testing.T) {
	tests := []struct {
		name        string
		version     string
		commit      string
		wantVersion string
	}{
		{"release build", "1.2.0", "abc1234", "1.2.0"},
		{"unversioned build", "", "", "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			r := gin.New()
			NewVersionHandler(tt.version, tt.commit, "2026-03-01T10:30:00Z").RegisterPublicRoutes(r)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/version", nil)
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", w.Code)
			}
			var resp VersionInfo
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Version != tt.wantVersion {
				t.Errorf("version = %q, want %q", resp.Version, tt.wantVersion)
			}
			if resp.Commit != tt.commit {
				t.Errorf("commit = %q, want %q", resp.Commit, tt.commit)
			}
			if resp.Service != "m4a-notes-gateway" || resp.GoVersion != runtime.Version() {
				t.Errorf("unexpected info %+v", resp)
			}
		})
	}
}

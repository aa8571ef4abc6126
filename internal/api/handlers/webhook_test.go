package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productivity-tools/m4a-notes/internal/billing"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []billing.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev billing.Event) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	if d.err != nil {
		return billing.ResultFailed, d.err
	}
	return billing.ResultHandled, nil
}

func postWebhook(t *testing.T, d EventDispatcher, secret string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewWebhookHandler(d, secret, zerolog.Nop()).RegisterRoutes(r.Group("/api"))

	req, _ := http.NewRequest("POST", "/api/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(billing.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const subscriptionEvent = `{"event_id":"evt_1","event_type":"subscription.created","occurred_at":"2026-03-01T10:00:00Z","data":{"id":"sub_1"}}`

func TestWebhook_Unsigned(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		dispatchErr error
		wantStatus  int
		wantBody    string
		wantEvents  int
	}{
		{"event acknowledged", subscriptionEvent, nil, http.StatusOK, `{"received":true}`, 1},
		{"unknown type acknowledged", `{"event_id":"e","event_type":"address.created","data":{}}`, nil, http.StatusOK, `{"received":true}`, 1},
		{"handler failure still acknowledged", subscriptionEvent, errors.New("db down"), http.StatusOK, `{"received":true}`, 1},
		{"not json", `event=1`, nil, http.StatusBadRequest, `{"error":"Webhook processing failed"}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{err: tt.dispatchErr}
			w := postWebhook(t, d, "", []byte(tt.body), "")
			require.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Len(t, d.events, tt.wantEvents)
		})
	}
}

func TestWebhook_Signed(t *testing.T) {
	const secret = "whsec_test"
	body := []byte(subscriptionEvent)
	now := time.Now()

	tests := []struct {
		name       string
		signature  string
		wantStatus int
	}{
		{"valid signature", billing.Sign(body, secret, now), http.StatusOK},
		{"wrong secret", billing.Sign(body, "other", now), http.StatusUnauthorized},
		{"replayed old signature", billing.Sign(body, secret, now.Add(-time.Hour)), http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"garbled header", "ts=abc", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			w := postWebhook(t, d, secret, body, tt.signature)
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Invalid signature"}`, w.Body.String())
				assert.Empty(t, d.events)
			} else {
				require.Len(t, d.events, 1)
				assert.Equal(t, "evt_1", d.events[0].EventID)
			}
		})
	}
}

func TestWebhook_OversizedBody(t *testing.T) {
	d := &recordingDispatcher{}
	body := `{"event_type":"x","data":"` + strings.Repeat("a", maxWebhookBody) + `"}`
	w := postWebhook(t, d, "", []byte(body), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, d.events)
}

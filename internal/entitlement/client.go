package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/metrics"
)

// ErrNotFound is returned by a Source that has no record for the user.
var ErrNotFound = errors.New("entitlement: not found")

// Source returns the stored entitlement for a user.
type Source interface {
	Entitlement(ctx context.Context, userID string) (*Entitlement, error)
}

// HTTPSource reads entitlements from the worker's internal endpoint.
type HTTPSource struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewHTTPSource creates a Source for GET {baseURL}/entitlements/{userID}.
func NewHTTPSource(baseURL, secret string, httpClient *http.Client) *HTTPSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: httpClient,
	}
}

type entitlementEnvelope struct {
	Entitlements *Entitlement `json:"entitlements"`
}

// Entitlement fetches the user's entitlement. A 404 or a null payload is ErrNotFound.
func (s *HTTPSource) Entitlement(ctx context.Context, userID string) (*Entitlement, error) {
	endpoint := s.baseURL + "/entitlements/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", s.secret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch entitlements: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env entitlementEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode entitlements: %w", err)
	}
	if env.Entitlements == nil {
		return nil, ErrNotFound
	}
	return env.Entitlements, nil
}

// Snapshot is a resolved entitlement. Degraded is set when the source failed
// and the default was substituted.
type Snapshot struct {
	Entitlement Entitlement
	Degraded    bool
}

// Client resolves entitlements, never failing: any source error yields the
// free/none default.
type Client struct {
	source  Source
	logger  zerolog.Logger
	metrics *metrics.PrometheusMetrics
	now     func() time.Time
}

// NewClient creates an entitlement client. m may be nil.
func NewClient(source Source, logger zerolog.Logger, m *metrics.PrometheusMetrics) *Client {
	return &Client{
		source:  source,
		logger:  logger.With().Str("component", "entitlement_client").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Resolve fetches the user's entitlement once, without retries.
func (c *Client) Resolve(ctx context.Context, userID string) Snapshot {
	e, err := c.source.Entitlement(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		c.metrics.RecordEntitlementFetch("missing")
		return Snapshot{Entitlement: Default(userID, c.now())}
	case err != nil:
		c.metrics.RecordEntitlementFetch("fallback")
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("entitlement fetch failed, using default")
		return Snapshot{Entitlement: Default(userID, c.now()), Degraded: true}
	}

	c.metrics.RecordEntitlementFetch("ok")
	out := *e
	out.normalize(userID, c.now())
	c.logger.Debug().
		Str("user_id", userID).
		Str("plan", string(out.Plan)).
		Str("status", string(out.Status)).
		Msg("entitlement resolved")
	return Snapshot{Entitlement: out}
}

// SourceFunc adapts a lookup function to a Source.
type SourceFunc func(ctx context.Context, userID string) (*Entitlement, error)

// Entitlement calls f.
func (f SourceFunc) Entitlement(ctx context.Context, userID string) (*Entitlement, error) {
	return f(ctx, userID)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/productivity-tools/m4a-notes/internal/config"
	"github.com/productivity-tools/m4a-notes/internal/httpclient"
)

// gateway issues authenticated JSON calls against the configured server.
type gateway struct {
	base   string
	token  string
	client *http.Client
}

func newGateway(cfg *config.ClientConfig) (*gateway, error) {
	client, err := httpclient.New(httpclient.Options{Proxy: cfg.Proxy, UserAgent: userAgent()})
	if err != nil {
		return nil, err
	}
	return &gateway{base: cfg.APIBase(), token: cfg.Token, client: client}, nil
}

func (g *gateway) get(ctx context.Context, path string, out any) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

func (g *gateway) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return g.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (g *gateway) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// validate-purchase reports verdicts with 4xx codes too; decode whenever the body is JSON.
	decodeErr := json.Unmarshal(data, out)
	if resp.StatusCode >= 400 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) == nil && (e.Error != "" || e.Message != "") {
			return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(e.Error+" "+e.Message))
		}
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	return nil
}

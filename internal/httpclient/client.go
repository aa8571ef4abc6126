// Package httpclient builds the outbound HTTP clients used to reach the worker,
// object storage and the notes gateway, with optional HTTP or SOCKS5 proxying.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/productivity-tools/m4a-notes/internal/config"
	"golang.org/x/net/proxy"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 30 * time.Second

// Options configures the HTTP client.
type Options struct {
	// Timeout for whole requests. Zero means DefaultTimeout, negative disables it
	// (used for streaming uploads whose duration depends on file size).
	Timeout time.Duration
	Proxy   *config.ProxyConfig
	// UserAgent is sent on every request when set.
	UserAgent string
}

// New creates an HTTP client with optional proxy support.
func New(opts Options) (*http.Client, error) {
	timeout := opts.Timeout
	switch {
	case timeout == 0:
		timeout = DefaultTimeout
	case timeout < 0:
		timeout = 0
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if opts.Proxy.HasProxy() {
		if err := applyProxy(transport, opts.Proxy); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	var rt http.RoundTripper = transport
	if opts.UserAgent != "" {
		rt = &userAgentTransport{base: transport, userAgent: opts.UserAgent}
	}

	return &http.Client{Timeout: timeout, Transport: rt}, nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

func applyProxy(transport *http.Transport, cfg *config.ProxyConfig) error {
	// SOCKS5 wins when both kinds are configured
	if cfg.SOCKS5Proxy != "" {
		dial, err := socks5Dialer(cfg.SOCKS5Proxy, cfg.NoProxy)
		if err != nil {
			return err
		}
		transport.DialContext = dial
		return nil
	}

	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return selectProxy(req.URL, cfg)
	}
	return nil
}

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func socks5Dialer(rawURL, noProxy string) (dialContextFunc, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "socks5://" + rawURL
	}
	proxyURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse SOCKS5 proxy URL: %w", err)
	}

	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
	}

	direct := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if bypassProxy(addr, noProxy) {
			return direct.DialContext(ctx, network, addr)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}, nil
}

// selectProxy picks the HTTPS proxy for https targets and the HTTP proxy otherwise.
func selectProxy(target *url.URL, cfg *config.ProxyConfig) (*url.URL, error) {
	if bypassProxy(target.Host, cfg.NoProxy) {
		return nil, nil
	}

	raw := cfg.HTTPProxy
	if target.Scheme == "https" && cfg.HTTPSProxy != "" {
		raw = cfg.HTTPSProxy
	}
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

// bypassProxy reports whether host matches a no_proxy entry: "*", an exact host,
// a ".suffix", or a parent domain.
func bypassProxy(host, noProxy string) bool {
	if noProxy == "" {
		return false
	}

	hostOnly, _, err := net.SplitHostPort(host)
	if err != nil {
		hostOnly = host
	}
	hostOnly = strings.ToLower(hostOnly)

	for _, pattern := range strings.Split(noProxy, ",") {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
			continue
		case pattern == "*", hostOnly == pattern:
			return true
		case strings.HasPrefix(pattern, "."):
			if strings.HasSuffix(hostOnly, pattern) {
				return true
			}
		case strings.HasSuffix(hostOnly, "."+pattern):
			return true
		}
	}
	return false
}

// Probe sends a HEAD request through the configured proxy. Any HTTP response,
// whatever its status, counts as reachable.
func Probe(ctx context.Context, cfg *config.ProxyConfig, target string) error {
	client, err := New(Options{Timeout: 10 * time.Second, Proxy: cfg})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", target, err)
	}
	resp.Body.Close()
	return nil
}

// Describe returns a display string for the proxy settings with credentials masked.
func Describe(cfg *config.ProxyConfig) string {
	if !cfg.HasProxy() {
		return "direct"
	}

	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+"="+maskCredentials(value))
		}
	}
	add("socks5", cfg.SOCKS5Proxy)
	add("http", cfg.HTTPProxy)
	add("https", cfg.HTTPSProxy)
	if cfg.NoProxy != "" {
		parts = append(parts, "no_proxy="+cfg.NoProxy)
	}
	return strings.Join(parts, " ")
}

func maskCredentials(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	if _, hasPass := u.User.Password(); hasPass {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	userAgent        = "OSINTForge/1.0"
	maxResponseBytes = 4 << 20
)

// ProviderConfig holds settings common to HTTP-backed adapters.
type ProviderConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKey    string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"rate_limit"`
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:   10 * time.Second,
		RateLimit: 60,
	}
}

// httpSource is the transport shared by the HTTP adapters: authenticated
// request construction, status classification and quota tracking.
type httpSource struct {
	name         string
	config       ProviderConfig
	apiKey       string
	apiKeyHeader string
	httpClient   *http.Client
	rateLimit    RateLimitStatus
	mu           sync.RWMutex
}

// newHTTPSource builds the transport. When cfg.APIKey names an environment
// variable, that variable must be set.
func newHTTPSource(name string, cfg ProviderConfig, apiKeyHeader string) (*httpSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}

	var apiKey string
	if cfg.APIKey != "" {
		apiKey = os.Getenv(cfg.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("%s API key not found in env var: %s", name, cfg.APIKey)
		}
	}

	return &httpSource{
		name:         name,
		config:       cfg,
		apiKey:       apiKey,
		apiKeyHeader: apiKeyHeader,
		// Deadlines come from the caller's context; the client timeout is a
		// backstop for callers that pass none.
		httpClient: &http.Client{Timeout: 2 * cfg.Timeout},
		rateLimit: RateLimitStatus{
			Remaining: cfg.RateLimit,
			Limit:     cfg.RateLimit,
			ResetAt:   time.Now().Add(time.Minute),
		},
	}, nil
}

// newRequest creates an authenticated API request.
func (s *httpSource) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	fullURL := strings.TrimSuffix(s.config.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if s.apiKey != "" && s.apiKeyHeader != "" {
		req.Header.Set(s.apiKeyHeader, s.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

// do executes req and returns the body of a 2xx or 404 response. Every other
// outcome is mapped onto the adapter error classes.
func (s *httpSource) do(req *http.Request) ([]byte, int, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, s.classifyTransportError(req.Context(), err)
	}
	defer resp.Body.Close()

	s.updateRateLimit(resp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, fmt.Errorf("%s returned 429 (retry after %s): %w",
			s.name, resp.Header.Get("Retry-After"), ErrRateLimited)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, resp.StatusCode, fmt.Errorf("%s returned status %d: %w", s.name, resp.StatusCode, ErrInvalidQuery)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resp.StatusCode, fmt.Errorf("%s authentication failed (status %d): %w", s.name, resp.StatusCode, ErrUnavailable)
	case resp.StatusCode == http.StatusNotFound:
		return nil, resp.StatusCode, nil
	case resp.StatusCode >= 300:
		return nil, resp.StatusCode, fmt.Errorf("%s returned status %d: %w", s.name, resp.StatusCode, ErrUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, s.classifyTransportError(req.Context(), err)
	}
	return body, resp.StatusCode, nil
}

func (s *httpSource) classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s request cancelled: %w", s.name, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s request: %w", s.name, ErrTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s request: %w", s.name, ErrTimeout)
	}
	return fmt.Errorf("%s request failed: %v: %w", s.name, err, ErrUnavailable)
}

// updateRateLimit updates quota from X-RateLimit-* response headers.
func (s *httpSource) updateRateLimit(resp *http.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if r, err := strconv.Atoi(remaining); err == nil {
			s.rateLimit.Remaining = r
		}
	}
	if limit := resp.Header.Get("X-RateLimit-Limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			s.rateLimit.Limit = l
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if sec, err := strconv.ParseInt(reset, 10, 64); err == nil {
			s.rateLimit.ResetAt = time.Unix(sec, 0)
		}
	}
}

// RateLimit returns current rate limit status.
func (s *httpSource) RateLimit() RateLimitStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimit
}

// Timeout returns the configured per-call timeout.
func (s *httpSource) Timeout() time.Duration {
	return s.config.Timeout
}

// healthCheck issues a GET against path and expects any non-5xx answer.
func (s *httpSource) healthCheck(ctx context.Context, path string) error {
	req, err := s.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}
	_, _, err = s.do(req)
	if err != nil && !errors.Is(err, ErrInvalidQuery) {
		return fmt.Errorf("%s health check failed: %w", s.name, err)
	}
	return nil
}

// Package httpapi is the shared JSON-over-HTTP client used by the upstream
// REST adapters. It records latency and throttling per API and returns
// errors that carry their HTTP status for classification.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/chatwatch/internal/metrics"
)

// ErrThrottled is returned without a request when the API is cooling down.
var ErrThrottled = errors.New("api throttled")

const maxErrorBody = 512

// StatusError is a non-2xx response.
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// HTTPStatus exposes the status code to error classification.
func (e *StatusError) HTTPStatus() int { return e.Status }

// Temporary reports whether the response suggests a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// throttledError wraps ErrThrottled with the status that caused the cool-down.
type throttledError struct {
	status     Status
	retryAfter time.Duration
}

func (e *throttledError) Error() string {
	return fmt.Sprintf("%v: %s, retry after %v", ErrThrottled, e.status, e.retryAfter)
}

func (e *throttledError) Unwrap() error { return ErrThrottled }

func (e *throttledError) HTTPStatus() int {
	if e.status == StatusBlocked {
		return http.StatusForbidden
	}
	return http.StatusTooManyRequests
}

// Config configures a Client.
type Config struct {
	Name      string
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Header    http.Header
}

// Client issues GET requests against one API and decodes JSON bodies.
type Client struct {
	name       string
	base       *url.URL
	userAgent  string
	header     http.Header
	httpClient *http.Client

	Monitor *Monitor
}

// New creates a client for the API rooted at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		name:      cfg.Name,
		base:      base,
		userAgent: cfg.UserAgent,
		header:    cfg.Header.Clone(),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Monitor: NewMonitor(),
	}, nil
}

// Name returns the API name used in metrics.
func (c *Client) Name() string { return c.name }

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

// GetJSON fetches path and decodes the body into out. endpoint is a low
// cardinality label for metrics, such as "livestream".
func (c *Client) GetJSON(ctx context.Context, endpoint, path string, out any) error {
	if status := c.Monitor.Status(); status == StatusThrottled || status == StatusBlocked {
		c.recordError(endpoint, "throttled")
		return &throttledError{status: status, retryAfter: c.Monitor.RetryAfter()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.finish(endpoint, start, "transport")
		return fmt.Errorf("%s %s: %w", c.name, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		c.Monitor.RecordThrottle(resp.StatusCode, retryAfter)
		c.finish(endpoint, start, strconv.Itoa(resp.StatusCode))
		return &StatusError{Status: resp.StatusCode, RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusForbidden:
		c.Monitor.RecordThrottle(resp.StatusCode, 0)
		c.finish(endpoint, start, strconv.Itoa(resp.StatusCode))
		return &StatusError{Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if c.Monitor.DetectThrottlePattern(string(body)) {
			c.Monitor.RecordThrottle(http.StatusTooManyRequests, 0)
		}
		c.finish(endpoint, start, strconv.Itoa(resp.StatusCode))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.finish(endpoint, start, "decode")
		return fmt.Errorf("%s %s: decode response: %w", c.name, endpoint, err)
	}
	c.finish(endpoint, start, "")
	return nil
}

// finish records latency and, when failure is non-empty, an error.
func (c *Client) finish(endpoint string, start time.Time, failure string) {
	latency := time.Since(start)
	c.Monitor.RecordRequest(latency, failure != "")
	metrics.HTTPLatency.WithLabelValues(c.name, endpoint).Observe(latency.Seconds())
	if failure != "" {
		c.recordError(endpoint, failure)
	}
}

func (c *Client) recordError(endpoint, status string) {
	metrics.HTTPErrors.WithLabelValues(c.name, endpoint, status).Inc()
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

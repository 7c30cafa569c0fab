package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/chatwatch/internal/infra/resilience/fault"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{Name: "test", BaseURL: srv.URL + "/", UserAgent: "chatwatch-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetJSON_Decodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/channels/abc/livestream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); ua != "chatwatch-test" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Write([]byte(`{"data":{"id":7}}`))
	})

	var out struct {
		Data struct {
			ID int `json:"id"`
		} `json:"data"`
	}
	if err := c.GetJSON(context.Background(), "livestream", "/api/v2/channels/abc/livestream", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Data.ID != 7 {
		t.Errorf("expected id 7, got %d", out.Data.ID)
	}
	if stats := c.Monitor.Stats(); stats.RequestsLastHour != 1 || stats.FailuresLastHour != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestGetJSON_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"server error", http.StatusBadGateway},
		{"unauthorized", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			err := c.GetJSON(context.Background(), "x", "x", &struct{}{})
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if se.Status != tt.status || se.Body != "nope" {
				t.Errorf("unexpected error %+v", se)
			}
			if got := fault.Inspect(err).Status; got != tt.status {
				t.Errorf("expected classified status %d, got %d", tt.status, got)
			}
		})
	}
}

func TestGetJSON_MalformedBodyIsSyntaxError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": nope}`))
	})
	err := c.GetJSON(context.Background(), "x", "x", &struct{}{})
	if err == nil {
		t.Fatal("expected error")
	}
	if name := fault.Inspect(err).Name; name != fault.NameSyntaxError {
		t.Errorf("expected %s, got %q", fault.NameSyntaxError, name)
	}
}

func TestGetJSON_ThrottleCoolDown(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	for i := 0; i < 3; i++ {
		err := c.GetJSON(context.Background(), "x", "x", &struct{}{})
		var se *StatusError
		if !errors.As(err, &se) || se.RetryAfter != 30*time.Second {
			t.Fatalf("call %d: expected 429 with retry-after, got %v", i, err)
		}
	}
	if status := c.Monitor.Status(); status != StatusThrottled {
		t.Fatalf("expected throttled, got %s", status)
	}

	err := c.GetJSON(context.Background(), "x", "x", &struct{}{})
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected throttled call to skip the server, got %d calls", calls)
	}
	if got := fault.Inspect(err).Status; got != http.StatusTooManyRequests {
		t.Errorf("expected 429 status on throttled error, got %d", got)
	}
}

func TestGetJSON_ForbiddenBlocks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_ = c.GetJSON(context.Background(), "x", "x", &struct{}{})
	if status := c.Monitor.Status(); status != StatusBlocked {
		t.Fatalf("expected blocked, got %s", status)
	}
	err := c.GetJSON(context.Background(), "x", "x", &struct{}{})
	if got := fault.Inspect(err).Status; got != http.StatusForbidden {
		t.Errorf("expected 403 status, got %d", got)
	}
}

func TestMonitor_CoolDownExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMonitor()
	m.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		m.RecordThrottle(http.StatusTooManyRequests, 5*time.Second)
	}
	if m.Status() != StatusThrottled {
		t.Fatalf("expected throttled")
	}
	if got := m.RetryAfter(); got != 5*time.Second {
		t.Errorf("expected 5s remaining, got %v", got)
	}

	now = now.Add(6 * time.Second)
	if m.Status() != StatusHealthy {
		t.Errorf("expected healthy after cool-down, got %s", m.Status())
	}
	if got := m.RetryAfter(); got != 0 {
		t.Errorf("expected no remaining cool-down, got %v", got)
	}
}

func TestMonitor_DegradedAndWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMonitor()
	m.SetClock(func() time.Time { return now })

	for i := 0; i < 11; i++ {
		m.RecordRequest(4*time.Second, i%2 == 0)
	}
	if m.Status() != StatusDegraded {
		t.Errorf("expected degraded, got %s", m.Status())
	}
	stats := m.Stats()
	if stats.RequestsLastHour != 11 || stats.FailuresLastHour != 6 {
		t.Errorf("unexpected stats %+v", stats)
	}

	now = now.Add(2 * time.Hour)
	stats = m.Stats()
	if stats.RequestsLastHour != 0 || stats.FailuresLastHour != 0 {
		t.Errorf("expected window to expire, got %+v", stats)
	}
}

func TestDetectThrottlePattern(t *testing.T) {
	m := NewMonitor()
	if !m.DetectThrottlePattern("Too Many Requests, please Slow Down") {
		t.Error("expected pattern match")
	}
	if m.DetectThrottlePattern("channel not found") {
		t.Error("unexpected pattern match")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"12", 12 * time.Second},
		{"-3", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := New(Config{Name: "x", BaseURL: "/relative"}); err == nil {
		t.Error("expected error for relative base url")
	}
}

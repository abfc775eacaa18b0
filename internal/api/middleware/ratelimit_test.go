package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// newTestLimiter returns a limiter on a frozen clock the test can advance.
func newTestLimiter(t *testing.T, perSecond float64, burst int, maxAge time.Duration) (*IPRateLimiter, *time.Time) {
	t.Helper()
	rl := NewIPRateLimiter(RateLimitConfig{
		Rate:            rate.Limit(perSecond),
		Burst:           burst,
		CleanupInterval: time.Hour,
		MaxAge:          maxAge,
	}, slog.Default())
	t.Cleanup(rl.Stop)

	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	return rl, &clock
}

func TestReserveBurstRefillAndIsolation(t *testing.T) {
	rl, clock := newTestLimiter(t, 2, 2, time.Hour)

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Reserve("203.0.113.7"); !ok {
			t.Fatalf("request %d within burst was refused", i+1)
		}
	}
	ok, wait := rl.Reserve("203.0.113.7")
	if ok {
		t.Fatal("request past burst was allowed")
	}
	if wait <= 0 || wait > 500*time.Millisecond {
		t.Errorf("wait = %v, want (0, 500ms] at 2 req/s", wait)
	}

	if !rl.Allow("203.0.113.8") {
		t.Error("another client should have its own bucket")
	}

	*clock = clock.Add(wait)
	if !rl.Allow("203.0.113.7") {
		t.Error("token should be available after waiting the reported delay")
	}
}

func TestForgetIdleClients(t *testing.T) {
	rl, clock := newTestLimiter(t, 10, 10, time.Minute)

	rl.Allow("198.51.100.1")
	*clock = clock.Add(30 * time.Second)
	rl.Allow("198.51.100.2")
	*clock = clock.Add(45 * time.Second)

	if n := rl.forgetIdle(); n != 1 {
		t.Fatalf("forgetIdle() = %d, want 1", n)
	}
	if rl.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", rl.Clients())
	}
}

func TestRateLimitAdminRequests(t *testing.T) {
	rl, _ := newTestLimiter(t, 0.5, 1, time.Hour)
	handler := RateLimit(rl)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	req.RemoteAddr = "203.0.113.7:41000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	// One token every two seconds.
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want string
	}{
		{0, "1"},
		{200 * time.Millisecond, "1"},
		{time.Second, "1"},
		{1500 * time.Millisecond, "2"},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.wait); got != tt.want {
			t.Errorf("retryAfter(%v) = %q, want %q", tt.wait, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.7:41000", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		if got := clientIP(r); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

func TestIPRateLimiterStopTwice(t *testing.T) {
	rl := NewIPRateLimiter(DefaultRateLimitConfig(), slog.Default())
	rl.Stop()
	rl.Stop()
}

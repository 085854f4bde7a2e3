package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatalf("expected first %d requests to pass", 2)
	}
	if rl.allow("1.2.3.4") {
		t.Fatalf("expected request over the limit to be denied")
	}
	if !rl.allow("5.6.7.8") {
		t.Fatalf("expected a different client to have its own counter")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.allow("1.2.3.4") {
		t.Fatalf("expected counter to reset after the window")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request: got %d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestClientKeyPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientKey(req); got != "203.0.113.9" {
		t.Fatalf("clientKey = %q, want first forwarded address", got)
	}

	req.Header.Del("X-Forwarded-For")
	if got := clientKey(req); got != "10.0.0.1" {
		t.Fatalf("clientKey = %q, want remote host without port", got)
	}
}

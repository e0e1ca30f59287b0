package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/photoshare/backend/internal/logging"
)

func TestRequestLoggerReusesIncomingRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/user/u/images", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req-123" {
		t.Fatalf("expected request id req-123 on context, got %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["request_id"] != "req-123" || entry["status"] != float64(http.StatusAccepted) {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestRequestLoggerGeneratesRequestID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 got %d", rec.Code)
	}
}

func TestRequestLoggerRecordsMatchedRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/{userId}/images/{imageId}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "image not found", http.StatusNotFound)
	})
	handler := RequestLogger(logger)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/u-7/images/1700000000000-cat.png", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["route"] != "GET /user/{userId}/images/{imageId}" {
		t.Fatalf("expected matched route, got %v", entry["route"])
	}
	if entry["userId"] != "u-7" || entry["imageId"] != "1700000000000-cat.png" {
		t.Fatalf("expected path values on the entry, got %v", entry)
	}
	if entry["level"] != "WARN" || entry["status"] != float64(http.StatusNotFound) {
		t.Fatalf("expected client errors to log at warn, got %v", entry)
	}
	if entry["bytes"] != float64(len("image not found\n")) {
		t.Fatalf("unexpected byte count %v", entry["bytes"])
	}
}

func TestRequestLoggerOmitsRouteWhenUnmatched(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	limited := RateLimit(NewIPRateLimiter(1, time.Minute, 1, time.Minute))(http.NewServeMux())
	handler := RequestLogger(logger)(limited)

	for i := 0; i < 2; i++ {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/user/u-7/images", nil)
		req.Header.Set(RequestIDHeader, "bad\nid")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["msg"] != "request completed" {
		t.Fatalf("expected access entry last, got %v", entry)
	}
	if _, ok := entry["route"]; ok {
		t.Fatalf("expected no route for a rejected request, got %v", entry)
	}
	if entry["status"] != float64(http.StatusTooManyRequests) {
		t.Fatalf("expected rate limited status, got %v", entry["status"])
	}
	if entry["request_id"] == "bad\nid" {
		t.Fatal("expected a request id with a line break to be replaced")
	}
}

func TestIPRateLimiterRefillsOverTime(t *testing.T) {
	limiter := NewIPRateLimiter(1, time.Second, 1, time.Minute)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.(*ipRateLimiter).WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("10.0.0.1") {
		t.Fatal("expected first request to be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("expected second request to be limited")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("expected other caller to have its own budget")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Fatal("expected bucket to refill after the window")
	}
}

func TestIPRateLimiterForgetsIdleCallers(t *testing.T) {
	limiter := NewIPRateLimiter(1, time.Second, 1, time.Minute).(*ipRateLimiter)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	limiter.Allow("10.0.0.1")
	now = now.Add(2 * time.Minute)
	limiter.Allow("10.0.0.2")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.buckets["10.0.0.1"]; ok {
		t.Fatal("expected idle bucket to be swept")
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("expected one live bucket, got %d", len(limiter.buckets))
	}
}

func TestRateLimitMiddlewareRejectsExcess(t *testing.T) {
	limiter := NewIPRateLimiter(1, time.Hour, 1, time.Minute)
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/user/u/images", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(""); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code := send(""); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("203.0.113.9, 192.0.2.1"); code != http.StatusOK {
		t.Fatalf("expected forwarded client to be keyed separately, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	if got := clientIP(req); got != "198.51.100.7" {
		t.Fatalf("expected host from remote addr, got %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.8")
	if got := clientIP(req); got != "198.51.100.8" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}
}

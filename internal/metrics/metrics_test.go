package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/photoshare/backend/internal/assets"
)

func TestObserverRecordsLifecycle(t *testing.T) {
	reg := promclient.NewRegistry()
	obs, err := NewObserver("test", reg)
	if err != nil {
		t.Fatalf("new observer: %v", err)
	}

	obs.RecordSubmit(10*time.Millisecond, 2048, nil)
	obs.RecordSubmit(time.Millisecond, 4096, errors.New("upload failed"))
	obs.RecordLoad(time.Millisecond, "cache", nil)
	obs.RecordPollAttempt("processing")
	obs.RecordTransition(assets.StatusReady)

	if got := testutil.ToFloat64(obs.uploadBytes); got != 2048 {
		t.Fatalf("expected 2048 uploaded bytes got %v", got)
	}
	if got := testutil.ToFloat64(obs.opErrors.WithLabelValues("submit")); got != 1 {
		t.Fatalf("expected one submit error got %v", got)
	}
	if got := testutil.ToFloat64(obs.loads.WithLabelValues("cache")); got != 1 {
		t.Fatalf("expected one cache load got %v", got)
	}
	if got := testutil.ToFloat64(obs.transitions.WithLabelValues(string(assets.StatusReady))); got != 1 {
		t.Fatalf("expected one ready transition got %v", got)
	}
}

func TestNewObserverReusesRegisteredCollectors(t *testing.T) {
	reg := promclient.NewRegistry()
	first, err := NewObserver("test", reg)
	if err != nil {
		t.Fatalf("first observer: %v", err)
	}
	second, err := NewObserver("test", reg)
	if err != nil {
		t.Fatalf("second observer: %v", err)
	}

	first.RecordPollAttempt("ready")
	second.RecordPollAttempt("ready")

	if got := testutil.ToFloat64(first.pollAttempts.WithLabelValues("ready")); got != 2 {
		t.Fatalf("expected shared counter to read 2 got %v", got)
	}
}

func TestNilObserverIsSafe(t *testing.T) {
	var obs *Observer
	obs.RecordSubmit(time.Second, 1, nil)
	obs.RecordDelete(time.Second, nil)
}

func TestHTTPMiddlewareLabelsByPattern(t *testing.T) {
	reg := promclient.NewRegistry()
	h, err := NewHTTP("test", reg, reg)
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/{userId}/images/{imageId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := h.Middleware(mux)

	for _, path := range []string{"/user/a/images/1.png", "/user/b/images/2.png"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := testutil.ToFloat64(h.requests.WithLabelValues(http.MethodGet, "GET /user/{userId}/images/{imageId}", "404"))
	if got != 2 {
		t.Fatalf("expected two requests under the route pattern got %v", got)
	}

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "test_http_requests_total") {
		t.Fatalf("expected exposition to include request counter, got %s", rec.Body.String())
	}
}

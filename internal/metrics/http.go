package metrics

import (
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP instruments the metadata service's handlers.
type HTTP struct {
	requests *promclient.CounterVec
	latency  *promclient.HistogramVec
	gatherer promclient.Gatherer
}

// NewHTTP registers request collectors on reg. gatherer backs Handler and
// defaults to the default gatherer.
func NewHTTP(namespace string, reg promclient.Registerer, gatherer promclient.Gatherer) (*HTTP, error) {
	if namespace == "" {
		namespace = "photoshare"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = promclient.DefaultGatherer
	}

	h := &HTTP{
		requests: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by route pattern and status code.",
		}, []string{"method", "route", "code"}),
		latency: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   promclient.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: gatherer,
	}

	var err error
	if h.requests, err = register(reg, h.requests); err != nil {
		return nil, err
	}
	if h.latency, err = register(reg, h.latency); err != nil {
		return nil, err
	}
	return h, nil
}

// Middleware records one sample per request. The route label is the matched
// ServeMux pattern so ids never become label values.
func (h *HTTP) Middleware(next http.Handler) http.Handler {
	if h == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		h.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		h.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the gathered metrics.
func (h *HTTP) Handler() http.Handler {
	if h == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

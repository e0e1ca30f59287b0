package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/photoshare/backend/internal/logging"
)

// RequestIDHeader carries the caller's correlation id. The metadata client
// sets it from the orchestrator context.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// accessRecorder captures what the handler chain sent back.
type accessRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (a *accessRecorder) WriteHeader(status int) {
	if a.status == 0 {
		a.status = status
	}
	a.ResponseWriter.WriteHeader(status)
}

func (a *accessRecorder) Write(p []byte) (int, error) {
	if a.status == 0 {
		a.status = http.StatusOK
	}
	n, err := a.ResponseWriter.Write(p)
	a.bytes += int64(n)
	return n, err
}

func (a *accessRecorder) Unwrap() http.ResponseWriter {
	return a.ResponseWriter
}

func (a *accessRecorder) code() int {
	if a.status == 0 {
		return http.StatusOK
	}
	return a.status
}

// RequestLogger puts a request scoped logger and request id on the context and
// writes one access entry per request. The entry names the matched route and
// the user and image it addressed; 4xx responses log at warn and 5xx at error.
// Handler panics become a 500.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)
			w.Header().Set(RequestIDHeader, id)

			logger := base.With(slog.String("request_id", id))
			ctx := logging.WithRequestID(logging.WithLogger(r.Context(), logger), id)

			// ServeMux records the match on the request it is handed, so keep
			// the pointer to read the route back afterwards.
			routed := r.WithContext(ctx)
			rec := &accessRecorder{ResponseWriter: w}

			defer func() {
				if p := recover(); p != nil {
					logger.Error("panic recovered", "panic", p, "path", r.URL.Path)
					if rec.status == 0 {
						http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}

				status := rec.code()
				attrs := append(routeAttrs(routed),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Int("status", status),
					slog.Int64("bytes", rec.bytes),
					slog.Duration("duration", time.Since(start)),
				)
				logger.LogAttrs(ctx, accessLevel(status), "request completed", attrs...)
			}()

			next.ServeHTTP(rec, routed)
		})
	}
}

// requestID reuses a sane incoming X-Request-ID so client and server logs
// correlate, and mints one otherwise.
func requestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > maxRequestIDLength || strings.ContainsAny(id, "\r\n") {
		return uuid.NewString()
	}
	return id
}

// routeAttrs describes the route the mux matched. Requests that never reached
// the mux, such as rate limited ones, carry none.
func routeAttrs(r *http.Request) []slog.Attr {
	if r.Pattern == "" {
		return nil
	}
	attrs := []slog.Attr{slog.String("route", r.Pattern)}
	if user := r.PathValue("userId"); user != "" {
		attrs = append(attrs, slog.String("userId", user))
	}
	if image := r.PathValue("imageId"); image != "" {
		attrs = append(attrs, slog.String("imageId", image))
	}
	return attrs
}

func accessLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

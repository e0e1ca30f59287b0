package app

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/photoshare/backend/internal/db"
	"github.com/photoshare/backend/internal/handlers"
	"github.com/photoshare/backend/internal/httpserver"
	"github.com/photoshare/backend/internal/logging"
	"github.com/photoshare/backend/internal/metrics"
	"github.com/photoshare/backend/internal/middleware"
)

func newServeCommand(rt *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the image metadata HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.serve(cmd)
		},
	}
}

func (rt *cli) serve(cmd *cobra.Command) error {
	ctx := logging.WithLogger(cmd.Context(), rt.logger)
	cfg := rt.cfg

	pool, err := db.Connect(ctx, cfg.Server.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	thumbnails, err := newBlobStore(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	httpMetrics, err := metrics.NewHTTP("photoshare", nil, nil)
	if err != nil {
		return err
	}

	handler := buildServerHandler(rt.logger, pool, thumbnails, httpMetrics, cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)

	ln, err := net.Listen("tcp", httpserver.Addr(cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Server.Port, err)
	}

	rt.logger.Info("starting http server", "port", cfg.Server.Port)
	srv := httpserver.New(ln.Addr().String(), handler, cfg.Server.ShutdownTimeout)
	if err := srv.Run(ctx, ln); err != nil {
		return err
	}
	rt.logger.Info("http server stopped")
	return nil
}

// buildServerHandler assembles routes and the middleware chain. The metrics
// middleware sits innermost so it sees the matched route pattern.
func buildServerHandler(logger *slog.Logger, pool db.Pool, thumbnails handlers.ThumbnailStore, httpMetrics *metrics.HTTP, perSec, burst int) http.Handler {
	deps := buildServerDependencies(pool, thumbnails, httpMetrics)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps)

	var handler http.Handler = httpMetrics.Middleware(mux)
	if perSec > 0 {
		limiter := middleware.NewIPRateLimiter(perSec, time.Second, burst, 10*time.Minute)
		handler = middleware.RateLimit(limiter)(handler)
		logger.Info("rate limiting enabled", "perSecond", perSec, "burst", burst)
	}
	return middleware.RequestLogger(logger)(handler)
}

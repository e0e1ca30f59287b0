package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/httpserver"
	"github.com/photoshare/backend/internal/logging"
	"github.com/photoshare/backend/internal/metrics"
	"github.com/photoshare/backend/internal/orchestrator"
)

const closeTimeout = 5 * time.Second

// withOrchestrator builds the client side, runs fn and always shuts the
// orchestrator down afterwards.
func (rt *cli) withOrchestrator(cmd *cobra.Command, reg promclient.Registerer, fn func(ctx context.Context, orch *orchestrator.Orchestrator) error) error {
	ctx := logging.WithLogger(cmd.Context(), rt.logger)

	orch, cleanup, err := buildOrchestrator(ctx, rt.cfg, rt.logger, reg)
	if err != nil {
		return err
	}

	runErr := fn(ctx, orch)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := cleanup(closeCtx); err != nil {
		rt.logger.Warn("orchestrator shutdown", "error", err)
	}
	return runErr
}

func newUploadCommand(rt *cli) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload images and wait for their thumbnails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withOrchestrator(cmd, nil, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
				return uploadFiles(ctx, orch, args, !noWait, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the bytes are stored instead of waiting for processing")
	return cmd
}

func uploadFiles(ctx context.Context, orch *orchestrator.Orchestrator, paths []string, wait bool, out, progress io.Writer) error {
	var submitted []assets.Record
	var errs []error
	for _, path := range paths {
		rec, err := uploadFile(ctx, orch, path, progress)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		fmt.Fprintf(out, "uploaded %s as %s\n", path, rec.ID)
		submitted = append(submitted, rec)
	}

	if wait {
		for _, rec := range submitted {
			final, err := orch.Await(ctx, rec.ID)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", rec.ID, err))
				continue
			}
			switch final.Status {
			case assets.StatusReady:
				fmt.Fprintf(out, "%s ready %s\n", final.ID, final.ThumbnailURL)
			case assets.StatusProcessingTimedOut:
				fmt.Fprintf(out, "%s processing timed out: %s\n", final.ID, final.LastError)
			default:
				fmt.Fprintf(out, "%s %s\n", final.ID, final.Status)
			}
		}
	}
	return errors.Join(errs...)
}

func uploadFile(ctx context.Context, orch *orchestrator.Orchestrator, path string, progress io.Writer) (assets.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return assets.Record{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return assets.Record{}, err
	}
	if info.IsDir() {
		return assets.Record{}, fmt.Errorf("is a directory")
	}

	contentType, err := detectContentType(f, path)
	if err != nil {
		return assets.Record{}, err
	}

	name := filepath.Base(path)
	return orch.Submit(ctx, orchestrator.SubmitRequest{
		Body:         f,
		ContentType:  contentType,
		Size:         info.Size(),
		OriginalName: name,
		Progress: func(fraction float64) {
			fmt.Fprintf(progress, "\r%s %3.0f%%", name, fraction*100)
			if fraction >= 1 {
				fmt.Fprintln(progress)
			}
		},
	})
}

// detectContentType prefers the extension and falls back to sniffing the
// first 512 bytes. f is rewound afterwards.
func detectContentType(f io.ReadSeeker, path string) (string, error) {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct, nil
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}

func newListCommand(rt *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List images, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withOrchestrator(cmd, nil, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
				records, err := orch.Load(ctx)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), records)
			})
		},
	}
}

func printRecords(out io.Writer, records []assets.Record) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSIZE\tUPLOADED\tTHUMBNAIL")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			rec.ID, rec.Status, rec.SizeBytes, rec.CreatedAt.Local().Format(time.DateTime), rec.ThumbnailURL)
	}
	return w.Flush()
}

func newDeleteCommand(rt *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete images and their thumbnails",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withOrchestrator(cmd, nil, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
				if _, err := orch.Load(ctx); err != nil {
					return err
				}
				var errs []error
				for _, id := range args {
					if err := orch.Delete(ctx, id); err != nil {
						var partial *assets.PartialFailureError
						if errors.As(err, &partial) {
							fmt.Fprintf(cmd.OutOrStdout(), "%s deleted locally; %s cleanup failed\n", id, partial.Failed)
						}
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newWatchCommand(rt *cli) *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload the image list periodically and report status changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}
			reg := promclient.NewRegistry()
			return rt.withOrchestrator(cmd, reg, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
				if metricsAddr != "" {
					stop, err := serveMetrics(ctx, metricsAddr, reg)
					if err != nil {
						return err
					}
					defer stop()
				}
				return watch(ctx, orch, interval, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "time between reloads")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to expose Prometheus metrics on, e.g. :9090")
	return cmd
}

func watch(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration, out io.Writer) error {
	seen := make(map[string]assets.Status)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		records, err := orch.Load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		reportChanges(out, seen, records)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// reportChanges prints records that are new or changed status since the
// previous call, and records that disappeared.
func reportChanges(out io.Writer, seen map[string]assets.Status, records []assets.Record) {
	current := make(map[string]struct{}, len(records))
	for _, rec := range records {
		current[rec.ID] = struct{}{}
		if prev, ok := seen[rec.ID]; !ok || prev != rec.Status {
			fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.TimeOnly), rec.ID, rec.Status)
			seen[rec.ID] = rec.Status
		}
	}
	for id := range seen {
		if _, ok := current[id]; !ok {
			fmt.Fprintf(out, "%s %s removed\n", time.Now().Format(time.TimeOnly), id)
			delete(seen, id)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *promclient.Registry) (func(), error) {
	httpMetrics, err := metrics.NewHTTP("photoshare", reg, reg)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", httpMetrics.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	srv := httpserver.New(addr, httpMetrics.Middleware(mux), closeTimeout)
	go func() {
		defer close(done)
		if err := srv.Run(ctx, ln); err != nil {
			logging.FromContext(ctx).Error("metrics server", "error", err)
		}
	}()
	logging.FromContext(ctx).Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		cancel()
		<-done
	}, nil
}

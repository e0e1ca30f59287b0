package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/photoshare/backend/internal/config"
	"github.com/photoshare/backend/internal/logging"
)

// cli carries state resolved once by the root command and shared by every
// subcommand.
type cli struct {
	configPath string
	userID     string

	cfg    config.Config
	logger *slog.Logger
}

// Run bootstraps the photoshare command tree.
func Run(ctx context.Context, args []string) error {
	root := newRootCommand(&cli{}, os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(rt *cli, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "photoshare",
		Short: "Upload, browse and delete processed images",
		Long: "photoshare uploads images to object storage, tracks them while the\n" +
			"processing pipeline produces thumbnails, and serves the image metadata API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	defaultConfig := os.Getenv("PHOTOSHARE_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "photoshare.yaml"
	}
	root.PersistentFlags().StringVar(&rt.configPath, "config", defaultConfig, "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&rt.userID, "user", "", "user id, overriding the configuration")

	root.AddCommand(
		newServeCommand(rt),
		newMigrateCommand(rt),
		newUploadCommand(rt),
		newListCommand(rt),
		newDeleteCommand(rt),
		newWatchCommand(rt),
	)
	return root
}

// setup loads configuration and installs the process logger. The metadata
// service logs to stdout; client commands keep stdout for their output.
func (rt *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	if user := strings.TrimSpace(rt.userID); user != "" {
		cfg.UserID = user
	}
	rt.cfg = cfg

	out := cmd.ErrOrStderr()
	if cmd.Name() == "serve" {
		out = cmd.OutOrStdout()
	}
	rt.logger = logging.New(cfg.LogLevel, out)
	return nil
}

package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/config"
	"github.com/pricelens-dev/pricelens/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pricelens server",
	Long: `Start the pricelens HTTP server.

Configuration comes from a YAML file and environment variables; the file is
watched and most settings apply without a restart. Postgres, redis, and
minio must be reachable at startup.

Examples:
  pricelens serve                         # Use ./config.yaml or env vars
  pricelens serve --config /etc/pl.yaml   # Explicit config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()

		logger := newLogger(cfgMgr.Get())

		srv, err := server.New(cmd.Context(), cfgMgr, logger)
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/api"
	"github.com/shizukutanaka/logpulse/internal/common"
	"github.com/shizukutanaka/logpulse/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and optional drop-directory watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		a, err := newApp(cfg, logger, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		server, err := api.NewServer(api.Config{
			Enabled:       cfg.Server.Enabled,
			ListenAddr:    cfg.Server.ListenAddr,
			EnableTLS:     cfg.Server.EnableTLS,
			CertFile:      cfg.Server.CertFile,
			KeyFile:       cfg.Server.KeyFile,
			AllowOrigins:  cfg.Server.AllowOrigins,
			StatsCacheTTL: cfg.Server.StatsCacheTTL,
		}, api.Deps{
			Coordinator: a.coordinator,
			Runner:      a.runner,
			Files:       a.files,
			Entries:     a.entries,
			Store:       a.store,
			Health:      a.health,
			Metrics:     a.metrics,
			Hub:         a.hub,
		}, logger)
		if err != nil {
			return err
		}

		if err := server.Start(ctx); err != nil {
			return err
		}

		if cfg.Watch.Enabled {
			watcher, err := ingest.NewWatcher(a.coordinator, ingest.WatcherConfig{
				Dir:         cfg.Watch.Dir,
				SettleDelay: cfg.Watch.SettleDelay,
			}, logger)
			if err != nil {
				return err
			}
			common.SafeGo(func() {
				if err := watcher.Run(ctx); err != nil && err != context.Canceled {
					logger.Error("Watcher stopped", zap.Error(err))
				}
			}, func(err error) {
				logger.Error("Watcher panicked", zap.Error(err))
			})
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("Shutting down", zap.String("signal", sig.String()))

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

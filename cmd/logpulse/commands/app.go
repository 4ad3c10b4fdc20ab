package commands

import (
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/analytics"
	"github.com/shizukutanaka/logpulse/internal/api"
	"github.com/shizukutanaka/logpulse/internal/config"
	"github.com/shizukutanaka/logpulse/internal/database"
	"github.com/shizukutanaka/logpulse/internal/ingest"
	"github.com/shizukutanaka/logpulse/internal/monitoring"
	"github.com/shizukutanaka/logpulse/internal/parser"
)

// app wires the service components from configuration
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *database.DB
	files       *database.LogFileRepository
	entries     *database.LogEntryRepository
	store       *database.AnalyticsRepository
	coordinator *ingest.Coordinator
	runner      *analytics.Runner
	metrics     *monitoring.Metrics
	health      *monitoring.HealthChecker
	hub         *api.Hub
}

// newApp builds every component. withMetrics is off for one-shot commands,
// which have no scrape endpoint.
func newApp(cfg *config.Config, logger *zap.Logger, withMetrics bool) (*app, error) {
	db, err := database.New(logger, database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		files:   database.NewLogFileRepository(db, logger),
		entries: database.NewLogEntryRepository(db, logger),
		store:   database.NewAnalyticsRepository(db, logger),
		hub:     api.NewHub(cfg.Server.AllowOrigins, logger),
	}

	if withMetrics {
		a.metrics = monitoring.NewMetrics(logger)
	}
	a.health = monitoring.NewHealthChecker(logger, db, cfg.Ingest.UploadDir)

	a.coordinator, err = ingest.NewCoordinator(
		a.files, a.entries,
		parser.NewLineProcessor(logger),
		a.metrics, a.hub,
		ingest.Config{
			UploadDir:    cfg.Ingest.UploadDir,
			BatchSize:    cfg.Ingest.BatchSize,
			MaxLineBytes: cfg.Ingest.MaxLineBytes,
		},
		logger,
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	a.runner = analytics.NewRunner(a.entries, a.store, analytics.RunnerConfig{
		WindowMinutes: cfg.Analytics.WindowMinutes,
		Contamination: cfg.Analytics.Contamination,
		Seed:          cfg.Analytics.Seed,
		Trees:         cfg.Analytics.Trees,
		MaxClusters:   cfg.Analytics.MaxClusters,
		MaxVocabulary: cfg.Analytics.MaxVocabulary,
		DefaultRange:  cfg.Analytics.DefaultRange,
	}, logger)

	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/common"
)

// WatcherConfig configures the drop-directory watcher
type WatcherConfig struct {
	Dir string

	// SettleDelay is how long a new file must be quiet before ingestion, so
	// writers can finish
	SettleDelay time.Duration
}

// Watcher ingests files dropped into a directory. Each new file is uploaded
// through the coordinator after the settle delay and then ingested.
type Watcher struct {
	coordinator *Coordinator
	watcher     *fsnotify.Watcher
	logger      *zap.Logger
	cfg         WatcherConfig
}

// NewWatcher creates a watcher for the configured directory
func NewWatcher(coordinator *Coordinator, cfg WatcherConfig, logger *zap.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: watch dir is required", common.ErrInvalidInput)
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create watch dir: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(cfg.Dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Dir, err)
	}

	return &Watcher{
		coordinator: coordinator,
		watcher:     fsWatcher,
		logger:      logger,
		cfg:         cfg,
	}, nil
}

// Run blocks until the context is canceled, ingesting dropped files as they
// appear. Existing files in the directory are picked up on start.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !ingestible(event.Name) {
				continue
			}
			common.SafeGo(func() {
				w.pickup(ctx, event.Name)
			}, func(err error) {
				w.logger.Error("Watcher pickup panicked", zap.Error(err))
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// sweep ingests files already present in the directory
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Error("Failed to read watch dir", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		if !ingestible(path) {
			continue
		}
		w.pickup(ctx, path)
	}
}

// pickup waits for the file to settle, then uploads and ingests it. The
// dropped file is removed once its content is stored.
func (w *Watcher) pickup(ctx context.Context, path string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.cfg.SettleDelay):
	}

	in, err := os.Open(path)
	if err != nil {
		w.logger.Error("Failed to open dropped file",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}

	file, err := w.coordinator.Intake(ctx, in, Meta{
		Filename: filepath.Base(path),
		Source:   "watcher",
	})
	in.Close()
	if err != nil {
		w.logger.Error("Failed to intake dropped file",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}

	if err := os.Remove(path); err != nil {
		w.logger.Warn("Failed to remove dropped file",
			zap.String("path", path),
			zap.Error(err),
		)
	}

	if err := w.coordinator.Ingest(ctx, file.ID); err != nil {
		w.logger.Error("Failed to ingest dropped file",
			zap.Int64("file_id", file.ID),
			zap.Error(err),
		)
	}
}

func ingestible(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".log", ".txt", ".gz", ".jsonl", ".out":
		return true
	default:
		return false
	}
}

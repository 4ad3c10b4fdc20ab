package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/common"
	"github.com/shizukutanaka/logpulse/internal/database"
)

// RunnerConfig configures one analytics pipeline
type RunnerConfig struct {
	WindowMinutes int
	Contamination float64
	Seed          int64
	Trees         int
	MaxClusters   int
	MaxVocabulary int

	// DefaultRange is analyzed when no explicit time range is given
	DefaultRange time.Duration
}

// RunOptions narrows one pipeline execution
type RunOptions struct {
	// Trigger records who started the run, e.g. manual, api, watcher
	Trigger string
	// Start and End bound the analyzed range; nil means the default range
	// ending now
	Start *time.Time
	End   *time.Time
	// FileID scopes anomaly windows to one file; nil means all files
	FileID *int64
}

// RunSummary reports the outcome of one pipeline execution
type RunSummary struct {
	AnomalyRun *database.PipelineRun `json:"anomaly_run"`
	ClusterRun *database.PipelineRun `json:"cluster_run"`
	Windows    int                   `json:"windows"`
	Anomalies  int64                 `json:"anomalies"`
	Clusters   int64                 `json:"clusters"`
}

// Runner executes the analytics pipeline: window features, score windows for
// anomalies, cluster error messages. Each execution records one pipeline run
// per kind.
type Runner struct {
	entries   *database.LogEntryRepository
	store     *database.AnalyticsRepository
	windower  *Windower
	scorer    *Scorer
	clusterer *Clusterer
	logger    *zap.Logger

	defaultRange time.Duration
}

// NewRunner creates a pipeline runner
func NewRunner(
	entries *database.LogEntryRepository,
	store *database.AnalyticsRepository,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if cfg.DefaultRange <= 0 {
		cfg.DefaultRange = 24 * time.Hour
	}
	return &Runner{
		entries: entries,
		store:   store,
		windower: NewWindower(cfg.WindowMinutes),
		scorer: NewScorer(ScorerConfig{
			Contamination: cfg.Contamination,
			Seed:          cfg.Seed,
			Trees:         cfg.Trees,
		}, logger),
		clusterer: NewClusterer(ClustererConfig{
			MaxClusters:   cfg.MaxClusters,
			MaxVocabulary: cfg.MaxVocabulary,
			Seed:          cfg.Seed,
		}, logger),
		logger:       logger,
		defaultRange: cfg.DefaultRange,
	}
}

// Run executes both pipeline stages over the requested range. A stage that
// fails is recorded as a failed run; the other stage still executes.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	end := time.Now().UTC()
	if opts.End != nil {
		end = opts.End.UTC()
	}
	start := end.Add(-r.defaultRange)
	if opts.Start != nil {
		start = opts.Start.UTC()
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: empty time range", common.ErrInvalidInput)
	}

	summary := &RunSummary{}

	anomalyErr := r.runAnomalyStage(ctx, opts, start, end, summary)
	clusterErr := r.runClusterStage(ctx, opts, start, end, summary)

	if anomalyErr != nil {
		return summary, anomalyErr
	}
	return summary, clusterErr
}

func (r *Runner) runAnomalyStage(ctx context.Context, opts RunOptions, start, end time.Time, summary *RunSummary) error {
	run := &database.PipelineRun{Kind: database.RunKindAnomaly, Trigger: opts.Trigger}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record anomaly run: %w", err)
	}
	summary.AnomalyRun = run

	err := common.SafeFunc(func() error {
		samples, err := r.entries.Samples(ctx, start, end, opts.FileID)
		if err != nil {
			return err
		}

		windows := r.windower.Windows(samples, start, end)
		summary.Windows = len(windows)

		scored, threshold, err := r.scorer.Score(windows)
		if errors.Is(err, common.ErrInsufficientData) {
			r.logger.Info("Too few windows for anomaly scoring",
				zap.Int("windows", len(windows)),
				zap.Int("required", MinWindowsForScoring),
			)
			return r.finishRun(ctx, run, &summary.Anomalies, nil)
		}
		if err != nil {
			return err
		}

		scope := "global"
		if opts.FileID != nil {
			scope = fmt.Sprintf("file:%d", *opts.FileID)
		}

		rows := make([]*database.AnomalyWindow, len(scored))
		for i, ws := range scored {
			rows[i] = &database.AnomalyWindow{
				Scope:         scope,
				WindowStart:   ws.Window.Start,
				WindowEnd:     ws.Window.End,
				Score:         ws.Score,
				Features:      ws.Window.Features(),
				Description:   Describe(ws.Window),
				PipelineRunID: &run.ID,
			}
			if ws.Anomalous {
				summary.Anomalies++
			}
		}
		if err := r.store.UpsertAnomalyWindows(ctx, rows); err != nil {
			return err
		}

		r.logger.Info("Anomaly stage finished",
			zap.Int("windows", len(scored)),
			zap.Int64("anomalies", summary.Anomalies),
			zap.Float64("threshold", threshold),
			zap.String("scope", scope),
		)
		return r.finishRun(ctx, run, &summary.Anomalies, nil)
	})
	if err != nil {
		r.failRun(ctx, run, err)
		return err
	}
	return nil
}

func (r *Runner) runClusterStage(ctx context.Context, opts RunOptions, start, end time.Time, summary *RunSummary) error {
	run := &database.PipelineRun{Kind: database.RunKindCluster, Trigger: opts.Trigger}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record cluster run: %w", err)
	}
	summary.ClusterRun = run

	err := common.SafeFunc(func() error {
		messages, err := r.entries.ErrorMessages(ctx, start, end)
		if err != nil {
			return err
		}

		clusters, err := r.clusterer.Cluster(messages)
		if errors.Is(err, common.ErrInsufficientData) || errors.Is(err, common.ErrEmptyVocabulary) {
			r.logger.Info("Too few error messages for clustering",
				zap.Int("messages", len(messages)),
			)
			return r.finishRun(ctx, run, nil, &summary.Clusters)
		}
		if err != nil {
			return err
		}

		rows := make([]*database.ErrorCluster, len(clusters))
		for i, c := range clusters {
			first, last := c.FirstSeen, c.LastSeen
			rows[i] = &database.ErrorCluster{
				Label:          c.Label,
				ExampleMessage: c.Example,
				Keywords:       c.Keywords,
				Count:          c.Count,
				FirstSeen:      &first,
				LastSeen:       &last,
				PipelineRunID:  &run.ID,
			}
		}
		if err := r.store.ReplaceClusters(ctx, run.ID, rows); err != nil {
			return err
		}
		summary.Clusters = int64(len(clusters))

		r.logger.Info("Cluster stage finished",
			zap.Int("messages", len(messages)),
			zap.Int64("clusters", summary.Clusters),
		)
		return r.finishRun(ctx, run, nil, &summary.Clusters)
	})
	if err != nil {
		r.failRun(ctx, run, err)
		return err
	}
	return nil
}

func (r *Runner) finishRun(ctx context.Context, run *database.PipelineRun, anomalies, clusters *int64) error {
	run.Status = database.RunStatusCompleted
	run.AnomaliesDetected = anomalies
	run.ClustersCreated = clusters
	return r.store.FinishRun(ctx, run)
}

func (r *Runner) failRun(ctx context.Context, run *database.PipelineRun, cause error) {
	run.Status = database.RunStatusFailed
	msg := cause.Error()
	run.Error = &msg
	if err := r.store.FinishRun(ctx, run); err != nil {
		r.logger.Error("Failed to record failed run",
			zap.Int64("run_id", run.ID),
			zap.Error(err),
		)
	}
}

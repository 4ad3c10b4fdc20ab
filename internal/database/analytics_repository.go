package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/common"
)

// Pipeline run kinds and states
const (
	RunKindAnomaly = "anomaly"
	RunKindCluster = "cluster"

	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// AnomalyWindow is one scored time window. The natural key is
// (scope, window_start, window_end); rescoring the same window replaces it.
type AnomalyWindow struct {
	ID            int64              `db:"id" json:"id"`
	Scope         string             `db:"scope" json:"scope"`
	WindowStart   time.Time          `db:"window_start" json:"window_start"`
	WindowEnd     time.Time          `db:"window_end" json:"window_end"`
	Score         float64            `db:"score" json:"score"`
	Features      map[string]float64 `db:"features" json:"features,omitempty"`
	Description   string             `db:"description" json:"description"`
	PipelineRunID *int64             `db:"pipeline_run_id" json:"pipeline_run_id,omitempty"`
}

// ErrorCluster is one cluster of error messages from a clustering run
type ErrorCluster struct {
	ID             int64      `db:"id" json:"id"`
	Label          int        `db:"label" json:"label"`
	ExampleMessage string     `db:"example_message" json:"example_message"`
	Keywords       []string   `db:"keywords" json:"keywords"`
	Count          int64      `db:"count" json:"count"`
	FirstSeen      *time.Time `db:"first_seen" json:"first_seen,omitempty"`
	LastSeen       *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	PipelineRunID  *int64     `db:"pipeline_run_id" json:"pipeline_run_id,omitempty"`
}

// PipelineRun records one analytics execution
type PipelineRun struct {
	ID                int64      `db:"id" json:"id"`
	Kind              string     `db:"kind" json:"kind"`
	Trigger           string     `db:"trigger_source" json:"trigger"`
	Status            string     `db:"status" json:"status"`
	AnomaliesDetected *int64     `db:"anomalies_detected" json:"anomalies_detected,omitempty"`
	ClustersCreated   *int64     `db:"clusters_created" json:"clusters_created,omitempty"`
	StartedAt         time.Time  `db:"started_at" json:"started_at"`
	FinishedAt        *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	DurationSeconds   *float64   `db:"duration_seconds" json:"duration_seconds,omitempty"`
	Error             *string    `db:"error" json:"error,omitempty"`
}

// AnalyticsRepository handles anomaly window, error cluster and pipeline run
// database operations
type AnalyticsRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *DB, logger *zap.Logger) *AnalyticsRepository {
	return &AnalyticsRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertAnomalyWindows inserts or replaces scored windows keyed by
// (scope, window_start, window_end)
func (r *AnalyticsRepository) UpsertAnomalyWindows(ctx context.Context, windows []*AnomalyWindow) error {
	if len(windows) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.db.rebind(`
		INSERT INTO anomaly_windows
		(scope, window_start, window_end, score, features, description, pipeline_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, window_start, window_end) DO UPDATE SET
			score = excluded.score,
			features = excluded.features,
			description = excluded.description,
			pipeline_run_id = excluded.pipeline_run_id
	`)

	for _, w := range windows {
		features, err := json.Marshal(w.Features)
		if err != nil {
			return fmt.Errorf("failed to marshal features: %w", err)
		}

		if _, err := tx.Execute(ctx, query,
			w.Scope, w.WindowStart, w.WindowEnd, w.Score,
			string(features), w.Description, w.PipelineRunID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListAnomalyWindows returns scored windows ordered by score, highest first
func (r *AnalyticsRepository) ListAnomalyWindows(ctx context.Context, scope string, minScore float64, limit int) ([]*AnomalyWindow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := r.db.rebind(`
		SELECT id, scope, window_start, window_end, score, features, description, pipeline_run_id
		FROM anomaly_windows
		WHERE scope = ? AND score >= ?
		ORDER BY score DESC
		LIMIT ?
	`)

	rows, err := r.db.Query(ctx, query, scope, minScore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	windows := make([]*AnomalyWindow, 0)
	for rows.Next() {
		w := &AnomalyWindow{}
		var featuresJSON sql.NullString

		if err := rows.Scan(
			&w.ID, &w.Scope, &w.WindowStart, &w.WindowEnd, &w.Score,
			&featuresJSON, &w.Description, &w.PipelineRunID,
		); err != nil {
			return nil, err
		}

		if featuresJSON.Valid && featuresJSON.String != "" {
			if err := json.Unmarshal([]byte(featuresJSON.String), &w.Features); err != nil {
				return nil, fmt.Errorf("failed to unmarshal features: %w", err)
			}
		}

		windows = append(windows, w)
	}

	return windows, rows.Err()
}

// ReplaceClusters atomically replaces the cluster set with the given run's
// output. Labels are only meaningful within one run.
func (r *AnalyticsRepository) ReplaceClusters(ctx context.Context, runID int64, clusters []*ErrorCluster) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Execute(ctx, `DELETE FROM error_clusters`); err != nil {
		return err
	}

	query := r.db.rebind(`
		INSERT INTO error_clusters
		(label, example_message, keywords, count, first_seen, last_seen, pipeline_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	for _, c := range clusters {
		keywords, err := json.Marshal(c.Keywords)
		if err != nil {
			return fmt.Errorf("failed to marshal keywords: %w", err)
		}

		if _, err := tx.Execute(ctx, query,
			c.Label, c.ExampleMessage, string(keywords), c.Count,
			c.FirstSeen, c.LastSeen, runID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListClusters returns clusters ordered by member count, largest first
func (r *AnalyticsRepository) ListClusters(ctx context.Context, limit int) ([]*ErrorCluster, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.rebind(`
		SELECT id, label, example_message, keywords, count, first_seen, last_seen, pipeline_run_id
		FROM error_clusters
		ORDER BY count DESC
		LIMIT ?
	`)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clusters := make([]*ErrorCluster, 0)
	for rows.Next() {
		c := &ErrorCluster{}
		var keywordsJSON sql.NullString

		if err := rows.Scan(
			&c.ID, &c.Label, &c.ExampleMessage, &keywordsJSON, &c.Count,
			&c.FirstSeen, &c.LastSeen, &c.PipelineRunID,
		); err != nil {
			return nil, err
		}

		if keywordsJSON.Valid && keywordsJSON.String != "" {
			if err := json.Unmarshal([]byte(keywordsJSON.String), &c.Keywords); err != nil {
				return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
			}
		}

		clusters = append(clusters, c)
	}

	return clusters, rows.Err()
}

// CreateRun inserts a pipeline run in state running and sets its ID
func (r *AnalyticsRepository) CreateRun(ctx context.Context, run *PipelineRun) error {
	if run == nil {
		return common.ErrNilInput
	}

	run.Status = RunStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	if r.db.driver == "postgres" {
		query := r.db.rebind(`
			INSERT INTO pipeline_runs (kind, trigger_source, status, started_at)
			VALUES (?, ?, ?, ?)
			RETURNING id
		`)
		return r.db.QueryRow(ctx, query,
			run.Kind, run.Trigger, run.Status, run.StartedAt,
		).Scan(&run.ID)
	}

	result, err := r.db.Execute(ctx, `
		INSERT INTO pipeline_runs (kind, trigger_source, status, started_at)
		VALUES (?, ?, ?, ?)
	`, run.Kind, run.Trigger, run.Status, run.StartedAt)
	if err != nil {
		return err
	}

	run.ID, err = result.LastInsertId()
	return err
}

// FinishRun records the terminal state, counters and duration of a run
func (r *AnalyticsRepository) FinishRun(ctx context.Context, run *PipelineRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	duration := now.Sub(run.StartedAt).Seconds()
	run.DurationSeconds = &duration

	query := r.db.rebind(`
		UPDATE pipeline_runs
		SET status = ?, anomalies_detected = ?, clusters_created = ?,
		    finished_at = ?, duration_seconds = ?, error = ?
		WHERE id = ?
	`)

	_, err := r.db.Execute(ctx, query,
		run.Status, run.AnomaliesDetected, run.ClustersCreated,
		run.FinishedAt, run.DurationSeconds, run.Error, run.ID,
	)
	return err
}

// ListRuns returns pipeline runs, newest first
func (r *AnalyticsRepository) ListRuns(ctx context.Context, limit int) ([]*PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.rebind(`
		SELECT id, kind, trigger_source, status, anomalies_detected,
		       clusters_created, started_at, finished_at, duration_seconds, error
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]*PipelineRun, 0)
	for rows.Next() {
		run := &PipelineRun{}
		if err := rows.Scan(
			&run.ID, &run.Kind, &run.Trigger, &run.Status,
			&run.AnomaliesDetected, &run.ClustersCreated, &run.StartedAt,
			&run.FinishedAt, &run.DurationSeconds, &run.Error,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

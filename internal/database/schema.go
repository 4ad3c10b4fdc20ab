package database

import (
	"context"
	"fmt"
	"time"
)

// initializeSchema creates the database schema
func (d *DB) initializeSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch d.driver {
	case "sqlite3":
		return d.initializeSQLiteSchema(ctx)
	case "postgres":
		return d.initializePostgresSchema(ctx)
	default:
		return fmt.Errorf("unsupported driver for schema initialization: %s", d.driver)
	}
}

// initializeSQLiteSchema creates SQLite schema
func (d *DB) initializeSQLiteSchema(ctx context.Context) error {
	schema := []string{
		// Uploaded log files
		`CREATE TABLE IF NOT EXISTS log_files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			stored_path TEXT NOT NULL,
			source TEXT,
			environment TEXT,
			log_type TEXT,
			status TEXT NOT NULL DEFAULT 'uploaded',
			total_lines INTEGER NOT NULL DEFAULT 0,
			parsed_lines INTEGER NOT NULL DEFAULT 0,
			failed_lines INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			uploaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			processed_at TIMESTAMP
		)`,

		// Normalized entries, one row per input line
		`CREATE TABLE IF NOT EXISTS log_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			log_file_id INTEGER NOT NULL,
			line_number INTEGER NOT NULL,
			timestamp TIMESTAMP,
			level TEXT,
			service TEXT,
			message TEXT,
			raw_line TEXT NOT NULL,
			parse_status TEXT NOT NULL DEFAULT 'failed',
			parse_error TEXT,
			parse_confidence REAL,
			parser_name TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (log_file_id, line_number),
			FOREIGN KEY (log_file_id) REFERENCES log_files(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_level ON log_entries(level)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_service ON log_entries(service)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_file ON log_entries(log_file_id)`,

		// Per-window anomaly scores
		`CREATE TABLE IF NOT EXISTS anomaly_windows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope TEXT NOT NULL DEFAULT 'global',
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			score REAL NOT NULL,
			features TEXT,
			description TEXT,
			pipeline_run_id INTEGER,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (scope, window_start, window_end)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_anomaly_windows_score ON anomaly_windows(score)`,

		// Error message clusters, labels scoped to one run
		`CREATE TABLE IF NOT EXISTS error_clusters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label INTEGER NOT NULL,
			example_message TEXT NOT NULL,
			keywords TEXT,
			count INTEGER NOT NULL,
			first_seen TIMESTAMP,
			last_seen TIMESTAMP,
			pipeline_run_id INTEGER,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_error_clusters_count ON error_clusters(count)`,

		// Analytics execution bookkeeping
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			trigger_source TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			anomalies_detected INTEGER,
			clusters_created INTEGER,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			duration_seconds REAL,
			error TEXT
		)`,
	}

	for _, stmt := range schema {
		if _, err := d.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// initializePostgresSchema creates PostgreSQL schema
func (d *DB) initializePostgresSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS log_files (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			stored_path TEXT NOT NULL,
			source TEXT,
			environment TEXT,
			log_type TEXT,
			status TEXT NOT NULL DEFAULT 'uploaded',
			total_lines BIGINT NOT NULL DEFAULT 0,
			parsed_lines BIGINT NOT NULL DEFAULT 0,
			failed_lines BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS log_entries (
			id BIGSERIAL PRIMARY KEY,
			log_file_id BIGINT NOT NULL REFERENCES log_files(id) ON DELETE CASCADE,
			line_number BIGINT NOT NULL,
			timestamp TIMESTAMPTZ,
			level TEXT,
			service TEXT,
			message TEXT,
			raw_line TEXT NOT NULL,
			parse_status TEXT NOT NULL DEFAULT 'failed',
			parse_error TEXT,
			parse_confidence DOUBLE PRECISION,
			parser_name TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (log_file_id, line_number)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_level ON log_entries(level)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_service ON log_entries(service)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_file ON log_entries(log_file_id)`,

		`CREATE TABLE IF NOT EXISTS anomaly_windows (
			id BIGSERIAL PRIMARY KEY,
			scope TEXT NOT NULL DEFAULT 'global',
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			features TEXT,
			description TEXT,
			pipeline_run_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (scope, window_start, window_end)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_anomaly_windows_score ON anomaly_windows(score)`,

		`CREATE TABLE IF NOT EXISTS error_clusters (
			id BIGSERIAL PRIMARY KEY,
			label INTEGER NOT NULL,
			example_message TEXT NOT NULL,
			keywords TEXT,
			count BIGINT NOT NULL,
			first_seen TIMESTAMPTZ,
			last_seen TIMESTAMPTZ,
			pipeline_run_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_error_clusters_count ON error_clusters(count)`,

		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			trigger_source TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			anomalies_detected BIGINT,
			clusters_created BIGINT,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			duration_seconds DOUBLE PRECISION,
			error TEXT
		)`,
	}

	for _, stmt := range schema {
		if _, err := d.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/common"
)

// Parse outcomes stored on entries
const (
	ParseStatusParsed  = "parsed"
	ParseStatusPartial = "partial"
	ParseStatusFailed  = "failed"
)

// LogEntry represents one normalized input line
type LogEntry struct {
	ID              int64      `db:"id" json:"id"`
	LogFileID       int64      `db:"log_file_id" json:"log_file_id"`
	LineNumber      int64      `db:"line_number" json:"line_number"`
	Timestamp       *time.Time `db:"timestamp" json:"timestamp,omitempty"`
	Level           *string    `db:"level" json:"level,omitempty"`
	Service         *string    `db:"service" json:"service,omitempty"`
	Message         *string    `db:"message" json:"message,omitempty"`
	RawLine         string     `db:"raw_line" json:"raw_line"`
	ParseStatus     string     `db:"parse_status" json:"parse_status"`
	ParseError      *string    `db:"parse_error" json:"parse_error,omitempty"`
	ParseConfidence *float64   `db:"parse_confidence" json:"parse_confidence,omitempty"`
	ParserName      *string    `db:"parser_name" json:"parser_name,omitempty"`
}

// EntrySample is the minimal projection consumed by the feature windower
type EntrySample struct {
	Timestamp time.Time
	Level     *string
	Service   *string
}

// ErrorMessage is one error-level message with its timestamp, consumed by
// the error clusterer
type ErrorMessage struct {
	Message   string
	Timestamp time.Time
}

// EntryFilter narrows entry listings
type EntryFilter struct {
	FileID  *int64
	Start   *time.Time
	End     *time.Time
	Level   string
	Service string
	Keyword string
	Limit   int
	Offset  int
}

// LevelStats aggregates entry counts for the query surface
type LevelStats struct {
	Total       int64            `json:"total"`
	ByLevel     map[string]int64 `json:"by_level"`
	ByStatus    map[string]int64 `json:"by_status"`
	TopServices []ServiceCount   `json:"top_services"`
}

// ServiceCount is one service with its entry count
type ServiceCount struct {
	Service string `json:"service"`
	Count   int64  `json:"count"`
}

// LogEntryRepository handles log entry database operations
type LogEntryRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLogEntryRepository creates a new log entry repository
func NewLogEntryRepository(db *DB, logger *zap.Logger) *LogEntryRepository {
	return &LogEntryRepository{
		db:     db,
		logger: logger,
	}
}

// Rows per INSERT statement. Each row binds 11 parameters and sqlite caps a
// statement at 32766 host parameters, so larger batches are split into
// several statements inside one transaction.
const insertChunkRows = 2900

// InsertBatch inserts entries, splitting oversized batches into chunked
// statements inside one transaction. Rows colliding on
// (log_file_id, line_number) are skipped, never duplicated; the returned
// counts separate inserted rows from skipped ones.
func (r *LogEntryRepository) InsertBatch(ctx context.Context, entries []*LogEntry) (inserted, skipped int64, err error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	for offset := 0; offset < len(entries); offset += insertChunkRows {
		chunk := entries[offset:min(offset+insertChunkRows, len(entries))]

		var sb strings.Builder
		sb.WriteString(`
			INSERT INTO log_entries
			(log_file_id, line_number, timestamp, level, service, message,
			 raw_line, parse_status, parse_error, parse_confidence, parser_name)
			VALUES `)

		args := make([]interface{}, 0, len(chunk)*11)
		for i, e := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				e.LogFileID, e.LineNumber, e.Timestamp, e.Level, e.Service,
				e.Message, e.RawLine, e.ParseStatus, e.ParseError,
				e.ParseConfidence, e.ParserName,
			)
		}
		sb.WriteString(" ON CONFLICT (log_file_id, line_number) DO NOTHING")

		result, execErr := tx.Execute(ctx, r.db.rebind(sb.String()), args...)
		if execErr != nil {
			return 0, 0, fmt.Errorf("batch insert failed: %w", execErr)
		}

		n, execErr := result.RowsAffected()
		if execErr != nil {
			return 0, 0, execErr
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	skipped = int64(len(entries)) - inserted
	if skipped > 0 {
		r.logger.Warn("Skipped duplicate entries",
			zap.Int64("log_file_id", entries[0].LogFileID),
			zap.Int64("skipped", skipped),
		)
	}

	return inserted, skipped, nil
}

// DeleteByFile removes every entry of a file. Used only by the explicit
// rebuild path.
func (r *LogEntryRepository) DeleteByFile(ctx context.Context, fileID int64) (int64, error) {
	result, err := r.db.Execute(ctx,
		r.db.rebind(`DELETE FROM log_entries WHERE log_file_id = ?`), fileID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountByFile returns the number of entries stored for a file
func (r *LogEntryRepository) CountByFile(ctx context.Context, fileID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		r.db.rebind(`SELECT COUNT(*) FROM log_entries WHERE log_file_id = ?`), fileID,
	).Scan(&count)
	return count, err
}

// List returns entries matching the filter, ordered by timestamp then id
func (r *LogEntryRepository) List(ctx context.Context, filter EntryFilter) ([]*LogEntry, error) {
	where := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)

	if filter.FileID != nil {
		where = append(where, "log_file_id = ?")
		args = append(args, *filter.FileID)
	}
	if filter.Start != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Start)
	}
	if filter.End != nil {
		where = append(where, "timestamp < ?")
		args = append(args, *filter.End)
	}
	if filter.Level != "" {
		where = append(where, "level = ?")
		args = append(args, filter.Level)
	}
	if filter.Service != "" {
		where = append(where, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.Keyword != "" {
		where = append(where, "(message LIKE ? OR raw_line LIKE ?)")
		pattern := "%" + filter.Keyword + "%"
		args = append(args, pattern, pattern)
	}

	query := `
		SELECT id, log_file_id, line_number, timestamp, level, service, message,
		       raw_line, parse_status, parse_error, parse_confidence, parser_name
		FROM log_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp, id LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*LogEntry, 0)
	for rows.Next() {
		e := &LogEntry{}
		if err := rows.Scan(
			&e.ID, &e.LogFileID, &e.LineNumber, &e.Timestamp, &e.Level,
			&e.Service, &e.Message, &e.RawLine, &e.ParseStatus, &e.ParseError,
			&e.ParseConfidence, &e.ParserName,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetByLine retrieves a single entry by its natural key
func (r *LogEntryRepository) GetByLine(ctx context.Context, fileID, lineNumber int64) (*LogEntry, error) {
	query := r.db.rebind(`
		SELECT id, log_file_id, line_number, timestamp, level, service, message,
		       raw_line, parse_status, parse_error, parse_confidence, parser_name
		FROM log_entries
		WHERE log_file_id = ? AND line_number = ?
	`)

	e := &LogEntry{}
	row := r.db.QueryRow(ctx, query, fileID, lineNumber)
	if err := row.Scan(
		&e.ID, &e.LogFileID, &e.LineNumber, &e.Timestamp, &e.Level,
		&e.Service, &e.Message, &e.RawLine, &e.ParseStatus, &e.ParseError,
		&e.ParseConfidence, &e.ParserName,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, common.ErrNotFound
		}
		return nil, err
	}

	return e, nil
}

// Samples returns the timestamped projection of entries in [start, end),
// ordered by timestamp, for feature windowing. A non-nil fileID narrows the
// projection to one file.
func (r *LogEntryRepository) Samples(ctx context.Context, start, end time.Time, fileID *int64) ([]EntrySample, error) {
	query := `
		SELECT timestamp, level, service
		FROM log_entries
		WHERE timestamp IS NOT NULL AND timestamp >= ? AND timestamp < ?`
	args := []interface{}{start, end}
	if fileID != nil {
		query += " AND log_file_id = ?"
		args = append(args, *fileID)
	}
	query += " ORDER BY timestamp"

	rows, err := r.db.Query(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]EntrySample, 0)
	for rows.Next() {
		var s EntrySample
		if err := rows.Scan(&s.Timestamp, &s.Level, &s.Service); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// ErrorMessages returns messages of error-level and unparseable entries in
// [start, end) for clustering
func (r *LogEntryRepository) ErrorMessages(ctx context.Context, start, end time.Time) ([]ErrorMessage, error) {
	query := r.db.rebind(`
		SELECT message, timestamp
		FROM log_entries
		WHERE timestamp IS NOT NULL AND timestamp >= ? AND timestamp < ?
		  AND (level = 'ERROR' OR parse_status = 'failed')
		  AND message IS NOT NULL AND message != ''
		ORDER BY timestamp
	`)

	rows, err := r.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]ErrorMessage, 0)
	for rows.Next() {
		var m ErrorMessage
		if err := rows.Scan(&m.Message, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Stats aggregates counts for the query surface
func (r *LogEntryRepository) Stats(ctx context.Context, start, end *time.Time) (*LevelStats, error) {
	where := " WHERE 1=1"
	args := make([]interface{}, 0, 2)
	if start != nil {
		where += " AND timestamp >= ?"
		args = append(args, *start)
	}
	if end != nil {
		where += " AND timestamp < ?"
		args = append(args, *end)
	}

	stats := &LevelStats{
		ByLevel:  make(map[string]int64),
		ByStatus: make(map[string]int64),
	}

	if err := r.db.QueryRow(ctx,
		r.db.rebind("SELECT COUNT(*) FROM log_entries"+where), args...,
	).Scan(&stats.Total); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, r.db.rebind(
		"SELECT level, COUNT(*) FROM log_entries"+where+" AND level IS NOT NULL GROUP BY level"), args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByLevel[level] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, r.db.rebind(
		"SELECT parse_status, COUNT(*) FROM log_entries"+where+" GROUP BY parse_status"), args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, r.db.rebind(
		"SELECT service, COUNT(*) AS c FROM log_entries"+where+
			" AND service IS NOT NULL GROUP BY service ORDER BY c DESC LIMIT 10"), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sc ServiceCount
		if err := rows.Scan(&sc.Service, &sc.Count); err != nil {
			return nil, err
		}
		stats.TopServices = append(stats.TopServices, sc)
	}

	return stats, rows.Err()
}

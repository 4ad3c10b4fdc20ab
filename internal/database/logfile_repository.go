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

// LogFile lifecycle states
const (
	FileStatusUploaded   = "uploaded"
	FileStatusProcessing = "processing"
	FileStatusProcessed  = "processed"
	FileStatusFailed     = "failed"
)

// LogFile represents one uploaded log file
type LogFile struct {
	ID          int64      `db:"id" json:"id"`
	Filename    string     `db:"filename" json:"filename"`
	StoredPath  string     `db:"stored_path" json:"stored_path"`
	Source      *string    `db:"source" json:"source,omitempty"`
	Environment *string    `db:"environment" json:"environment,omitempty"`
	LogType     *string    `db:"log_type" json:"log_type,omitempty"`
	Status      string     `db:"status" json:"status"`
	TotalLines  int64      `db:"total_lines" json:"total_lines"`
	ParsedLines int64      `db:"parsed_lines" json:"parsed_lines"`
	FailedLines int64      `db:"failed_lines" json:"failed_lines"`
	Error       *string    `db:"error" json:"error,omitempty"`
	UploadedAt  time.Time  `db:"uploaded_at" json:"uploaded_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// LogFileRepository handles log file database operations
type LogFileRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewLogFileRepository creates a new log file repository
func NewLogFileRepository(db *DB, logger *zap.Logger) *LogFileRepository {
	return &LogFileRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new log file in state uploaded and sets its ID
func (r *LogFileRepository) Create(ctx context.Context, file *LogFile) error {
	if file == nil {
		return common.ErrNilInput
	}

	file.Status = FileStatusUploaded
	file.UploadedAt = time.Now().UTC()

	if r.db.driver == "postgres" {
		query := r.db.rebind(`
			INSERT INTO log_files (filename, stored_path, source, environment, log_type, status, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`)
		return r.db.QueryRow(ctx, query,
			file.Filename, file.StoredPath, file.Source, file.Environment,
			file.LogType, file.Status, file.UploadedAt,
		).Scan(&file.ID)
	}

	result, err := r.db.Execute(ctx, `
		INSERT INTO log_files (filename, stored_path, source, environment, log_type, status, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		file.Filename, file.StoredPath, file.Source, file.Environment,
		file.LogType, file.Status, file.UploadedAt,
	)
	if err != nil {
		return err
	}

	file.ID, err = result.LastInsertId()
	return err
}

// Get retrieves a log file by ID
func (r *LogFileRepository) Get(ctx context.Context, id int64) (*LogFile, error) {
	file := &LogFile{}

	query := r.db.rebind(`
		SELECT id, filename, stored_path, source, environment, log_type, status,
		       total_lines, parsed_lines, failed_lines, error, uploaded_at, processed_at
		FROM log_files
		WHERE id = ?
	`)

	row := r.db.QueryRow(ctx, query, id)
	if err := row.Scan(
		&file.ID,
		&file.Filename,
		&file.StoredPath,
		&file.Source,
		&file.Environment,
		&file.LogType,
		&file.Status,
		&file.TotalLines,
		&file.ParsedLines,
		&file.FailedLines,
		&file.Error,
		&file.UploadedAt,
		&file.ProcessedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, common.ErrNotFound
		}
		return nil, err
	}

	return file, nil
}

// List returns log files ordered by upload time, newest first
func (r *LogFileRepository) List(ctx context.Context, limit, offset int) ([]*LogFile, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.rebind(`
		SELECT id, filename, stored_path, source, environment, log_type, status,
		       total_lines, parsed_lines, failed_lines, error, uploaded_at, processed_at
		FROM log_files
		ORDER BY uploaded_at DESC
		LIMIT ? OFFSET ?
	`)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]*LogFile, 0)
	for rows.Next() {
		file := &LogFile{}
		if err := rows.Scan(
			&file.ID,
			&file.Filename,
			&file.StoredPath,
			&file.Source,
			&file.Environment,
			&file.LogType,
			&file.Status,
			&file.TotalLines,
			&file.ParsedLines,
			&file.FailedLines,
			&file.Error,
			&file.UploadedAt,
			&file.ProcessedAt,
		); err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	return files, rows.Err()
}

// TryTransition atomically moves a file from one of the given states to the
// target state. Returns false when the file is in none of the source states,
// which is how concurrent ingestion of the same file is excluded.
func (r *LogFileRepository) TryTransition(ctx context.Context, id int64, from []string, to string) (bool, error) {
	if len(from) == 0 {
		return false, common.ErrInvalidInput
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := r.db.rebind(fmt.Sprintf(`
		UPDATE log_files
		SET status = ?, error = NULL
		WHERE id = ? AND status IN (%s)
	`, placeholders))

	args := make([]interface{}, 0, len(from)+2)
	args = append(args, to, id)
	for _, s := range from {
		args = append(args, s)
	}

	result, err := r.db.Execute(ctx, query, args...)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// Finish records the terminal state of an ingestion job along with the final
// counters. Counters are final once the status is processed or failed.
func (r *LogFileRepository) Finish(ctx context.Context, id int64, status string, total, parsed, failed int64, errMsg *string) error {
	now := time.Now().UTC()

	query := r.db.rebind(`
		UPDATE log_files
		SET status = ?, total_lines = ?, parsed_lines = ?, failed_lines = ?,
		    error = ?, processed_at = ?
		WHERE id = ?
	`)

	result, err := r.db.Execute(ctx, query, status, total, parsed, failed, errMsg, now, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return common.ErrNotFound
	}

	return nil
}

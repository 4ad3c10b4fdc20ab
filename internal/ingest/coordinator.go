package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/common"
	"github.com/shizukutanaka/logpulse/internal/database"
	"github.com/shizukutanaka/logpulse/internal/monitoring"
	"github.com/shizukutanaka/logpulse/internal/parser"
)

const scannerInitialBuffer = 64 * 1024

// Config configures file ingestion
type Config struct {
	UploadDir    string
	BatchSize    int
	MaxLineBytes int
}

// Meta carries caller-supplied attributes of an uploaded file
type Meta struct {
	Filename    string
	Source      string
	Environment string
	LogType     string
}

// Notifier receives file status changes, e.g. for websocket broadcast
type Notifier interface {
	NotifyFile(file *database.LogFile)
}

// Coordinator owns the upload-to-processed lifecycle of log files. Entries
// are keyed by (file, line), so re-running ingestion never duplicates rows;
// the status transition gate keeps concurrent jobs off the same file.
type Coordinator struct {
	files     *database.LogFileRepository
	entries   *database.LogEntryRepository
	processor *parser.LineProcessor
	metrics   *monitoring.Metrics
	notifier  Notifier
	logger    *zap.Logger
	cfg       Config
}

// NewCoordinator creates an ingestion coordinator. metrics and notifier may
// be nil.
func NewCoordinator(
	files *database.LogFileRepository,
	entries *database.LogEntryRepository,
	processor *parser.LineProcessor,
	metrics *monitoring.Metrics,
	notifier Notifier,
	cfg Config,
	logger *zap.Logger,
) (*Coordinator, error) {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 2000
	}
	if cfg.MaxLineBytes < scannerInitialBuffer {
		cfg.MaxLineBytes = 1024 * 1024
	}
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("%w: upload dir is required", common.ErrInvalidInput)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &Coordinator{
		files:     files,
		entries:   entries,
		processor: processor,
		metrics:   metrics,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// Intake stores the uploaded content under a unique name and registers the
// file in state uploaded
func (c *Coordinator) Intake(ctx context.Context, r io.Reader, meta Meta) (*database.LogFile, error) {
	if r == nil {
		return nil, common.ErrNilInput
	}
	if meta.Filename == "" {
		meta.Filename = "upload.log"
	}

	stored := filepath.Join(c.cfg.UploadDir, uuid.NewString()+storedExt(meta.Filename))
	out, err := os.Create(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	size, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(stored)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	file := &database.LogFile{
		Filename:   meta.Filename,
		StoredPath: stored,
	}
	if meta.Source != "" {
		file.Source = &meta.Source
	}
	if meta.Environment != "" {
		file.Environment = &meta.Environment
	}
	if meta.LogType != "" {
		file.LogType = &meta.LogType
	}

	if err := c.files.Create(ctx, file); err != nil {
		os.Remove(stored)
		return nil, err
	}

	c.logger.Info("File uploaded",
		zap.Int64("file_id", file.ID),
		zap.String("filename", file.Filename),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
	c.notify(file)

	return file, nil
}

// Ingest processes an uploaded file into normalized entries. Only files in
// state uploaded are eligible; a file already being processed returns
// common.ErrFileBusy, any other state common.ErrFileNotIngestible.
func (c *Coordinator) Ingest(ctx context.Context, fileID int64) error {
	file, err := c.files.Get(ctx, fileID)
	if err != nil {
		return err
	}

	ok, err := c.files.TryTransition(ctx, fileID, []string{database.FileStatusUploaded}, database.FileStatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		if file.Status == database.FileStatusProcessing {
			return common.ErrFileBusy
		}
		return common.ErrFileNotIngestible
	}

	return c.run(ctx, file)
}

// Rebuild discards a file's entries and re-ingests it from the stored copy.
// Eligible from any state except processing.
func (c *Coordinator) Rebuild(ctx context.Context, fileID int64) error {
	file, err := c.files.Get(ctx, fileID)
	if err != nil {
		return err
	}

	from := []string{database.FileStatusUploaded, database.FileStatusProcessed, database.FileStatusFailed}
	ok, err := c.files.TryTransition(ctx, fileID, from, database.FileStatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrFileBusy
	}

	deleted, err := c.entries.DeleteByFile(ctx, fileID)
	if err != nil {
		c.finish(ctx, file, database.FileStatusFailed, counters{}, err, time.Now())
		return err
	}
	c.logger.Info("Rebuilding file",
		zap.Int64("file_id", fileID),
		zap.Int64("deleted_entries", deleted),
	)

	return c.run(ctx, file)
}

type counters struct {
	total, parsed, failed int64
}

// run scans the stored file line by line, batching normalized entries.
// Cancellation is honored between batches and fails the job.
func (c *Coordinator) run(ctx context.Context, file *database.LogFile) error {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.IngestJobStarted()
		defer c.metrics.IngestJobDone()
	}

	var counts counters
	err := common.SafeFunc(func() error {
		in, err := os.Open(file.StoredPath)
		if err != nil {
			return fmt.Errorf("failed to open stored file: %w", err)
		}
		defer in.Close()

		var reader io.Reader = in
		if strings.HasSuffix(file.StoredPath, ".gz") {
			gz, err := gzip.NewReader(in)
			if err != nil {
				return fmt.Errorf("failed to open gzip stream: %w", err)
			}
			defer gz.Close()
			reader = gz
		}

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, scannerInitialBuffer), c.cfg.MaxLineBytes)

		batch := make([]*database.LogEntry, 0, c.cfg.BatchSize)
		var lineNumber int64

		for scanner.Scan() {
			lineNumber++
			counts.total++
			batch = append(batch, c.toEntry(file.ID, lineNumber, scanner.Text(), &counts))

			if len(batch) >= c.cfg.BatchSize {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := c.flush(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("scan failed at line %d: %w", lineNumber+1, err)
		}

		return c.flush(ctx, batch)
	})

	if err != nil {
		c.finish(ctx, file, database.FileStatusFailed, counts, err, start)
		return err
	}

	c.finish(ctx, file, database.FileStatusProcessed, counts, nil, start)
	c.logger.Info("File processed",
		zap.Int64("file_id", file.ID),
		zap.Int64("total_lines", counts.total),
		zap.Int64("parsed_lines", counts.parsed),
		zap.Int64("failed_lines", counts.failed),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// toEntry normalizes one line. Partially parsed lines count as parsed.
func (c *Coordinator) toEntry(fileID, lineNumber int64, line string, counts *counters) *database.LogEntry {
	result := c.processor.Process(line)

	entry := &database.LogEntry{
		LogFileID:   fileID,
		LineNumber:  lineNumber,
		Timestamp:   result.Timestamp,
		Message:     result.Message,
		RawLine:     line,
		ParseStatus: string(result.Status),
	}
	if result.Level != "" {
		entry.Level = &result.Level
	}
	if result.Service != "" {
		entry.Service = &result.Service
	}
	if result.Error != "" {
		entry.ParseError = &result.Error
	}
	if result.Parser != "" {
		entry.ParserName = &result.Parser
		confidence := result.Confidence
		entry.ParseConfidence = &confidence
	}

	if result.Status == parser.StatusFailed {
		counts.failed++
	} else {
		counts.parsed++
	}
	return entry
}

func (c *Coordinator) flush(ctx context.Context, batch []*database.LogEntry) error {
	if len(batch) == 0 {
		return nil
	}
	inserted, skipped, err := c.entries.InsertBatch(ctx, batch)
	if err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordBatch()
	}
	c.logger.Debug("Flushed batch",
		zap.Int64("inserted", inserted),
		zap.Int64("skipped", skipped),
	)
	return nil
}

func (c *Coordinator) finish(ctx context.Context, file *database.LogFile, status string, counts counters, cause error, start time.Time) {
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}

	// The terminal status must land even when the job context is canceled
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	if err := c.files.Finish(ctx, file.ID, status, counts.total, counts.parsed, counts.failed, errMsg); err != nil {
		c.logger.Error("Failed to record file status",
			zap.Int64("file_id", file.ID),
			zap.String("status", status),
			zap.Error(err),
		)
	}

	if c.metrics != nil {
		c.metrics.RecordFileFinished(status, time.Since(start).Seconds())
		c.metrics.RecordLines(database.ParseStatusParsed, counts.parsed)
		c.metrics.RecordLines(database.ParseStatusFailed, counts.failed)
	}

	file.Status = status
	file.TotalLines = counts.total
	file.ParsedLines = counts.parsed
	file.FailedLines = counts.failed
	file.Error = errMsg
	c.notify(file)
}

func (c *Coordinator) notify(file *database.LogFile) {
	if c.notifier != nil {
		c.notifier.NotifyFile(file)
	}
}

// storedExt keeps the extension so gzip detection survives renaming
func storedExt(filename string) string {
	if strings.HasSuffix(filename, ".gz") {
		return ".gz"
	}
	ext := filepath.Ext(filename)
	if ext == "" {
		return ".log"
	}
	return ext
}

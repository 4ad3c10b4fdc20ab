package database

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/common"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(zap.NewNop(), Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestLogFileLifecycle(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewLogFileRepository(db, zap.NewNop())
	ctx := context.Background()

	file := &LogFile{
		Filename:   "app.log",
		StoredPath: "/data/uploads/abc.log",
		Source:     strPtr("api"),
	}
	require.NoError(t, repo.Create(ctx, file))
	require.NotZero(t, file.ID)

	got, err := repo.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, FileStatusUploaded, got.Status)
	assert.Equal(t, "app.log", got.Filename)

	// uploaded -> processing is the mutual-exclusion gate
	ok, err := repo.TryTransition(ctx, file.ID, []string{FileStatusUploaded}, FileStatusProcessing)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second job must lose the race
	ok, err = repo.TryTransition(ctx, file.ID, []string{FileStatusUploaded}, FileStatusProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Finish(ctx, file.ID, FileStatusProcessed, 10, 8, 2, nil))

	got, err = repo.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, FileStatusProcessed, got.Status)
	assert.Equal(t, int64(10), got.TotalLines)
	assert.Equal(t, int64(8), got.ParsedLines)
	assert.Equal(t, int64(2), got.FailedLines)
	assert.EqualValues(t, got.TotalLines, got.ParsedLines+got.FailedLines)
	require.NotNil(t, got.ProcessedAt)
}

func TestLogFileGetNotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewLogFileRepository(db, zap.NewNop())

	_, err := repo.Get(context.Background(), 4242)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLogFileFinishFailed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewLogFileRepository(db, zap.NewNop())
	ctx := context.Background()

	file := &LogFile{Filename: "x.log", StoredPath: "/p/x.log"}
	require.NoError(t, repo.Create(ctx, file))

	require.NoError(t, repo.Finish(ctx, file.ID, FileStatusFailed, 3, 2, 1, strPtr("disk exploded")))

	got, err := repo.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, FileStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "disk exploded", *got.Error)
}

func makeEntry(fileID, line int64, ts time.Time, level, service, message string) *LogEntry {
	e := &LogEntry{
		LogFileID:   fileID,
		LineNumber:  line,
		RawLine:     message,
		ParseStatus: ParseStatusParsed,
	}
	if !ts.IsZero() {
		e.Timestamp = timePtr(ts)
	}
	if level != "" {
		e.Level = strPtr(level)
	}
	if service != "" {
		e.Service = strPtr(service)
	}
	if message != "" {
		e.Message = strPtr(message)
	}
	return e
}

func TestInsertBatchSkipsDuplicates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	files := NewLogFileRepository(db, zap.NewNop())
	entries := NewLogEntryRepository(db, zap.NewNop())
	ctx := context.Background()

	file := &LogFile{Filename: "a.log", StoredPath: "/p/a.log"}
	require.NoError(t, files.Create(ctx, file))

	base := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	batch := []*LogEntry{
		makeEntry(file.ID, 1, base, "INFO", "auth", "one"),
		makeEntry(file.ID, 2, base.Add(time.Second), "ERROR", "auth", "two"),
	}

	inserted, skipped, err := entries.InsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)
	assert.Zero(t, skipped)

	// Re-inserting the same lines is skipped, never duplicated
	inserted, skipped, err = entries.InsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Equal(t, int64(2), skipped)

	count, err := entries.CountByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestInsertBatchChunksLargeBatches(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	files := NewLogFileRepository(db, zap.NewNop())
	entries := NewLogEntryRepository(db, zap.NewNop())
	ctx := context.Background()

	file := &LogFile{Filename: "big.log", StoredPath: "/p/big.log"}
	require.NoError(t, files.Create(ctx, file))

	// More rows than fit in one statement under sqlite's parameter cap
	const rows = 5000
	require.Greater(t, rows, insertChunkRows)

	base := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	batch := make([]*LogEntry, 0, rows)
	for i := int64(1); i <= rows; i++ {
		batch = append(batch, makeEntry(file.ID, i,
			base.Add(time.Duration(i)*time.Millisecond), "INFO", "bulk",
			"line "+strconv.FormatInt(i, 10)))
	}

	inserted, skipped, err := entries.InsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(rows), inserted)
	assert.Zero(t, skipped)

	count, err := entries.CountByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(rows), count)

	// Duplicate detection still spans chunk boundaries
	inserted, skipped, err = entries.InsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Equal(t, int64(rows), skipped)
}

func TestDeleteByFileForRebuild(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	files := NewLogFileRepository(db, zap.NewNop())
	entries := NewLogEntryRepository(db, zap.NewNop())
	ctx := context.Background()

	file := &LogFile{Filename: "b.log", StoredPath: "/p/b.log"}
	require.NoError(t, files.Create(ctx, file))

	base := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	_, _, err := entries.InsertBatch(ctx, []*LogEntry{
		makeEntry(file.ID, 1, base, "INFO", "s", "m"),
		makeEntry(file.ID, 2, base, "INFO", "s", "m"),
		makeEntry(file.ID, 3, base, "INFO", "s", "m"),
	})
	require.NoError(t, err)

	deleted, err := entries.DeleteByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	count, err := entries.CountByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEntryListFilters(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	files := NewLogFileRepository(db, zap.NewNop())
	entries := NewLogEntryRepository(db, zap.NewNop())
	ctx := context.Background()

	file := &LogFile{Filename: "c.log", StoredPath: "/p/c.log"}
	require.NoError(t, files.Create(ctx, file))

	base := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	_, _, err := entries.InsertBatch(ctx, []*LogEntry{
		makeEntry(file.ID, 1, base, "INFO", "auth", "login ok"),
		makeEntry(file.ID, 2, base.Add(time.Minute), "ERROR", "billing", "charge timeout"),
		makeEntry(file.ID, 3, base.Add(2*time.Minute), "ERROR", "auth", "token expired"),
	})
	require.NoError(t, err)

	got, err := entries.List(ctx, EntryFilter{Level: "ERROR"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = entries.List(ctx, EntryFilter{Service: "auth"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = entries.List(ctx, EntryFilter{Keyword: "timeout"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].LineNumber)

	end := base.Add(90 * time.Second)
	got, err = entries.List(ctx, EntryFilter{Start: &base, End: &end})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSamplesAndErrorMessages(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	files := NewLogFileRepository(db, zap.NewNop())
	entries := NewLogEntryRepository(db, zap.NewNop())
	ctx := context.Background()

	file := &LogFile{Filename: "d.log", StoredPath: "/p/d.log"}
	require.NoError(t, files.Create(ctx, file))

	base := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	noTS := makeEntry(file.ID, 3, time.Time{}, "", "", "garbage")
	noTS.ParseStatus = ParseStatusFailed

	_, _, err := entries.InsertBatch(ctx, []*LogEntry{
		makeEntry(file.ID, 1, base, "INFO", "auth", "fine"),
		makeEntry(file.ID, 2, base.Add(time.Second), "ERROR", "billing", "boom"),
		noTS,
	})
	require.NoError(t, err)

	samples, err := entries.Samples(ctx, base, base.Add(time.Hour), nil)
	require.NoError(t, err)
	// Entries without a timestamp never reach the windower
	assert.Len(t, samples, 2)

	samples, err = entries.Samples(ctx, base, base.Add(time.Hour), &file.ID)
	require.NoError(t, err)
	assert.Len(t, samples, 2)

	msgs, err := entries.ErrorMessages(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "boom", msgs[0].Message)
}

func TestStats(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	files := NewLogFileRepository(db, zap.NewNop())
	entries := NewLogEntryRepository(db, zap.NewNop())
	ctx := context.Background()

	file := &LogFile{Filename: "e.log", StoredPath: "/p/e.log"}
	require.NoError(t, files.Create(ctx, file))

	base := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	_, _, err := entries.InsertBatch(ctx, []*LogEntry{
		makeEntry(file.ID, 1, base, "INFO", "auth", "a"),
		makeEntry(file.ID, 2, base, "INFO", "auth", "b"),
		makeEntry(file.ID, 3, base, "ERROR", "billing", "c"),
	})
	require.NoError(t, err)

	stats, err := entries.Stats(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.ByLevel["INFO"])
	assert.Equal(t, int64(1), stats.ByLevel["ERROR"])
	assert.Equal(t, int64(3), stats.ByStatus[ParseStatusParsed])
	require.NotEmpty(t, stats.TopServices)
	assert.Equal(t, "auth", stats.TopServices[0].Service)
}

func TestAnomalyWindowUpsert(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewAnalyticsRepository(db, zap.NewNop())
	ctx := context.Background()

	ws := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	we := ws.Add(2 * time.Minute)

	window := &AnomalyWindow{
		Scope:       "global",
		WindowStart: ws,
		WindowEnd:   we,
		Score:       0.42,
		Features:    map[string]float64{"total_count": 10},
		Description: "10 events in window",
	}
	require.NoError(t, repo.UpsertAnomalyWindows(ctx, []*AnomalyWindow{window}))

	// Rescoring the same window replaces, never duplicates
	window.Score = 0.9
	require.NoError(t, repo.UpsertAnomalyWindows(ctx, []*AnomalyWindow{window}))

	got, err := repo.ListAnomalyWindows(ctx, "global", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, float64(10), got[0].Features["total_count"])
}

func TestReplaceClusters(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewAnalyticsRepository(db, zap.NewNop())
	ctx := context.Background()

	now := time.Now().UTC()
	first := []*ErrorCluster{
		{Label: 0, ExampleMessage: "timeout", Keywords: []string{"timeout", "charge"}, Count: 5, FirstSeen: &now, LastSeen: &now},
		{Label: 1, ExampleMessage: "refused", Keywords: []string{"refused"}, Count: 3},
	}
	require.NoError(t, repo.ReplaceClusters(ctx, 1, first))

	second := []*ErrorCluster{
		{Label: 0, ExampleMessage: "oom", Keywords: []string{"memory"}, Count: 7},
	}
	require.NoError(t, repo.ReplaceClusters(ctx, 2, second))

	got, err := repo.ListClusters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "oom", got[0].ExampleMessage)
	assert.Equal(t, []string{"memory"}, got[0].Keywords)
}

func TestPipelineRunLifecycle(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewAnalyticsRepository(db, zap.NewNop())
	ctx := context.Background()

	run := &PipelineRun{Kind: RunKindAnomaly, Trigger: "manual"}
	require.NoError(t, repo.CreateRun(ctx, run))
	require.NotZero(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	detected := int64(3)
	run.Status = RunStatusCompleted
	run.AnomaliesDetected = &detected
	require.NoError(t, repo.FinishRun(ctx, run))

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusCompleted, runs[0].Status)
	require.NotNil(t, runs[0].AnomaliesDetected)
	assert.Equal(t, int64(3), *runs[0].AnomaliesDetected)
	require.NotNil(t, runs[0].DurationSeconds)
}

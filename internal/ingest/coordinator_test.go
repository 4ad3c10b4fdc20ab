package ingest

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/common"
	"github.com/shizukutanaka/logpulse/internal/database"
	"github.com/shizukutanaka/logpulse/internal/parser"
)

type fixture struct {
	coordinator *Coordinator
	files       *database.LogFileRepository
	entries     *database.LogEntryRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithBatch(t, 3)
}

func newFixtureWithBatch(t *testing.T, batchSize int) *fixture {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(zap.NewNop(), database.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(dir, "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files := database.NewLogFileRepository(db, zap.NewNop())
	entries := database.NewLogEntryRepository(db, zap.NewNop())

	coordinator, err := NewCoordinator(
		files, entries,
		parser.NewLineProcessor(zap.NewNop()),
		nil, nil,
		Config{UploadDir: filepath.Join(dir, "uploads"), BatchSize: batchSize},
		zap.NewNop(),
	)
	require.NoError(t, err)

	return &fixture{coordinator: coordinator, files: files, entries: entries}
}

const sampleLog = `2025-01-15T10:00:00Z INFO auth-service User login successful
2025-01-15T10:00:30Z WARN auth-service Token close to expiry
2025-01-15T10:01:00Z ERROR billing-service Charge declined by gateway
###garbage###
2025-01-15T10:02:00Z INFO auth-service Session refreshed
`

func TestIntakeRegistersUpload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	file, err := f.coordinator.Intake(ctx, strings.NewReader(sampleLog), Meta{
		Filename: "app.log",
		Source:   "api",
	})
	require.NoError(t, err)
	require.NotZero(t, file.ID)
	assert.Equal(t, database.FileStatusUploaded, file.Status)
	assert.FileExists(t, file.StoredPath)

	got, err := f.files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "app.log", got.Filename)
	require.NotNil(t, got.Source)
	assert.Equal(t, "api", *got.Source)
}

func TestIntakeNilReader(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.coordinator.Intake(context.Background(), nil, Meta{Filename: "x.log"})
	assert.ErrorIs(t, err, common.ErrNilInput)
}

func TestIngestEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	file, err := f.coordinator.Intake(ctx, strings.NewReader(sampleLog), Meta{Filename: "app.log"})
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Ingest(ctx, file.ID))

	got, err := f.files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, database.FileStatusProcessed, got.Status)
	assert.Equal(t, int64(5), got.TotalLines)
	assert.Equal(t, int64(4), got.ParsedLines)
	assert.Equal(t, int64(1), got.FailedLines)
	assert.EqualValues(t, got.TotalLines, got.ParsedLines+got.FailedLines)
	require.NotNil(t, got.ProcessedAt)

	count, err := f.entries.CountByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	// Line numbers are 1-based and levels normalized
	entry, err := f.entries.GetByLine(ctx, file.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, entry.Level)
	assert.Equal(t, "WARNING", *entry.Level)
	require.NotNil(t, entry.Service)
	assert.Equal(t, "auth-service", *entry.Service)

	// The garbage line survives as a failed entry with its raw text
	entry, err = f.entries.GetByLine(ctx, file.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, database.ParseStatusFailed, entry.ParseStatus)
	assert.Equal(t, "###garbage###", entry.RawLine)
}

func TestIngestLargeBatchSize(t *testing.T) {
	t.Parallel()

	// A flush of 5000 rows exceeds sqlite's per-statement parameter cap and
	// must still land every line.
	f := newFixtureWithBatch(t, 5000)
	ctx := context.Background()

	const lines = 5000
	var sb strings.Builder
	for i := 1; i <= lines; i++ {
		sb.WriteString("2025-01-15T10:00:00Z INFO bulk-service request ")
		sb.WriteString(strconv.Itoa(i))
		sb.WriteByte('\n')
	}

	file, err := f.coordinator.Intake(ctx, strings.NewReader(sb.String()), Meta{Filename: "big.log"})
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Ingest(ctx, file.ID))

	got, err := f.files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, database.FileStatusProcessed, got.Status)
	assert.Equal(t, int64(lines), got.TotalLines)
	assert.Equal(t, int64(lines), got.ParsedLines)
	assert.Zero(t, got.FailedLines)

	count, err := f.entries.CountByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(lines), count)
}

func TestIngestOnlyFromUploaded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	file, err := f.coordinator.Intake(ctx, strings.NewReader(sampleLog), Meta{Filename: "app.log"})
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Ingest(ctx, file.ID))

	// Already processed
	err = f.coordinator.Ingest(ctx, file.ID)
	assert.ErrorIs(t, err, common.ErrFileNotIngestible)
}

func TestIngestBusyFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	file, err := f.coordinator.Intake(ctx, strings.NewReader(sampleLog), Meta{Filename: "app.log"})
	require.NoError(t, err)

	// Another job holds the file
	ok, err := f.files.TryTransition(ctx, file.ID, []string{database.FileStatusUploaded}, database.FileStatusProcessing)
	require.NoError(t, err)
	require.True(t, ok)

	err = f.coordinator.Ingest(ctx, file.ID)
	assert.ErrorIs(t, err, common.ErrFileBusy)
}

func TestIngestMissingFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.coordinator.Ingest(context.Background(), 4242)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRebuildReplacesEntries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	file, err := f.coordinator.Intake(ctx, strings.NewReader(sampleLog), Meta{Filename: "app.log"})
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Ingest(ctx, file.ID))

	before, err := f.entries.CountByFile(ctx, file.ID)
	require.NoError(t, err)

	require.NoError(t, f.coordinator.Rebuild(ctx, file.ID))

	after, err := f.entries.CountByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, err := f.files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, database.FileStatusProcessed, got.Status)
}

func TestRebuildWhileProcessing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	file, err := f.coordinator.Intake(ctx, strings.NewReader(sampleLog), Meta{Filename: "app.log"})
	require.NoError(t, err)

	ok, err := f.files.TryTransition(ctx, file.ID, []string{database.FileStatusUploaded}, database.FileStatusProcessing)
	require.NoError(t, err)
	require.True(t, ok)

	err = f.coordinator.Rebuild(ctx, file.ID)
	assert.ErrorIs(t, err, common.ErrFileBusy)
}

func TestIngestGzip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(sampleLog))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	file, err := f.coordinator.Intake(ctx, &buf, Meta{Filename: "app.log.gz"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(file.StoredPath, ".gz"))

	require.NoError(t, f.coordinator.Ingest(ctx, file.ID))

	got, err := f.files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, database.FileStatusProcessed, got.Status)
	assert.Equal(t, int64(5), got.TotalLines)
}

func TestIngestMissingStoredFileFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	file := &database.LogFile{Filename: "gone.log", StoredPath: filepath.Join(t.TempDir(), "gone.log")}
	require.NoError(t, f.files.Create(ctx, file))

	err := f.coordinator.Ingest(ctx, file.ID)
	require.Error(t, err)

	got, err := f.files.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, database.FileStatusFailed, got.Status)
	require.NotNil(t, got.Error)
}

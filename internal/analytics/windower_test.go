package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shizukutanaka/logpulse/internal/database"
)

func sample(ts time.Time, level, service string) database.EntrySample {
	s := database.EntrySample{Timestamp: ts}
	if level != "" {
		s.Level = &level
	}
	if service != "" {
		s.Service = &service
	}
	return s
}

func TestWindowsCoverRangeExactly(t *testing.T) {
	t.Parallel()

	w := NewWindower(2)
	start := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)

	windows := w.Windows(nil, start, end)
	require.Len(t, windows, 5)

	for i, win := range windows {
		assert.Equal(t, start.Add(time.Duration(i)*2*time.Minute), win.Start)
		assert.Equal(t, win.Start.Add(2*time.Minute), win.End)
		assert.Zero(t, win.TotalCount)
		assert.Zero(t, win.ErrorRate)
	}
}

func TestWindowsFloorAlignStart(t *testing.T) {
	t.Parallel()

	w := NewWindower(2)
	start := time.Date(2025, 12, 31, 12, 1, 30, 0, time.UTC)
	end := time.Date(2025, 12, 31, 12, 5, 0, 0, time.UTC)

	windows := w.Windows(nil, start, end)
	require.NotEmpty(t, windows)
	assert.Equal(t, time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC), windows[0].Start)
}

func TestWindowsAggregate(t *testing.T) {
	t.Parallel()

	w := NewWindower(2)
	start := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Minute)

	samples := []database.EntrySample{
		sample(start, "INFO", "auth"),
		sample(start.Add(30*time.Second), "ERROR", "billing"),
		sample(start.Add(time.Minute), "ERROR", "auth"),
		sample(start.Add(90*time.Second), "WARNING", "auth"),
		// Second window
		sample(start.Add(2*time.Minute), "INFO", "auth"),
		// On the boundary, belongs to the second window
		sample(start.Add(2*time.Minute), "ERROR", "search"),
	}

	windows := w.Windows(samples, start, end)
	require.Len(t, windows, 2)

	first := windows[0]
	assert.Equal(t, int64(4), first.TotalCount)
	assert.Equal(t, int64(2), first.ErrorCount)
	assert.Equal(t, int64(1), first.WarnCount)
	assert.Equal(t, int64(1), first.InfoCount)
	assert.Equal(t, int64(2), first.UniqueServices)
	assert.Equal(t, 0.5, first.ErrorRate)

	second := windows[1]
	assert.Equal(t, int64(2), second.TotalCount)
	assert.Equal(t, int64(1), second.ErrorCount)
	assert.Equal(t, int64(2), second.UniqueServices)

	// Window totals partition the samples
	var total int64
	for _, win := range windows {
		total += win.TotalCount
	}
	assert.Equal(t, int64(len(samples)), total)
}

func TestWindowsErrorRateRounded(t *testing.T) {
	t.Parallel()

	w := NewWindower(2)
	start := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)

	samples := []database.EntrySample{
		sample(start, "ERROR", "a"),
		sample(start.Add(time.Second), "INFO", "a"),
		sample(start.Add(2*time.Second), "INFO", "a"),
	}

	windows := w.Windows(samples, start, start.Add(2*time.Minute))
	require.Len(t, windows, 1)
	// 1/3 rounds to four decimals
	assert.Equal(t, 0.3333, windows[0].ErrorRate)
}

func TestWindowsEmptyRange(t *testing.T) {
	t.Parallel()

	w := NewWindower(2)
	start := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, w.Windows(nil, start, start))
	assert.Nil(t, w.Windows(nil, start, start.Add(-time.Minute)))
}

func TestFeatureVectorOrder(t *testing.T) {
	t.Parallel()

	win := FeatureWindow{
		TotalCount:     10,
		ErrorCount:     3,
		WarnCount:      2,
		UniqueServices: 4,
		ErrorRate:      0.3,
	}

	vector := win.Vector()
	require.Len(t, vector, len(FeatureNames))

	features := win.Features()
	for i, name := range FeatureNames {
		assert.Equal(t, features[name], vector[i], name)
	}
}

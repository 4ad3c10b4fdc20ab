package analytics

import (
	"math"
	"time"

	"github.com/shizukutanaka/logpulse/internal/database"
	"github.com/shizukutanaka/logpulse/internal/parser"
)

// Feature keys of one time window
const (
	FeatureTotalCount     = "total_count"
	FeatureErrorCount     = "error_count"
	FeatureErrorRate      = "error_rate"
	FeatureUniqueServices = "unique_services"
	FeatureWarnCount      = "warn_count"
	FeatureInfoCount      = "info_count"
	FeatureDebugCount     = "debug_count"
)

// FeatureNames fixes the feature order used as model input
var FeatureNames = []string{
	FeatureTotalCount,
	FeatureErrorCount,
	FeatureErrorRate,
	FeatureUniqueServices,
	FeatureWarnCount,
}

// FeatureWindow is one half-open [Start, End) window with its aggregates
type FeatureWindow struct {
	Start          time.Time
	End            time.Time
	TotalCount     int64
	ErrorCount     int64
	WarnCount      int64
	InfoCount      int64
	DebugCount     int64
	UniqueServices int64
	ErrorRate      float64
}

// Features returns the window aggregates keyed by feature name
func (w FeatureWindow) Features() map[string]float64 {
	return map[string]float64{
		FeatureTotalCount:     float64(w.TotalCount),
		FeatureErrorCount:     float64(w.ErrorCount),
		FeatureErrorRate:      w.ErrorRate,
		FeatureUniqueServices: float64(w.UniqueServices),
		FeatureWarnCount:      float64(w.WarnCount),
		FeatureInfoCount:      float64(w.InfoCount),
		FeatureDebugCount:     float64(w.DebugCount),
	}
}

// Vector returns the aggregates in FeatureNames order
func (w FeatureWindow) Vector() []float64 {
	return []float64{
		float64(w.TotalCount),
		float64(w.ErrorCount),
		w.ErrorRate,
		float64(w.UniqueServices),
		float64(w.WarnCount),
	}
}

// Windower buckets timestamped entries into fixed-size time windows
type Windower struct {
	size time.Duration
}

// NewWindower creates a windower with the given window size in minutes
func NewWindower(windowMinutes int) *Windower {
	if windowMinutes < 1 {
		windowMinutes = 2
	}
	return &Windower{size: time.Duration(windowMinutes) * time.Minute}
}

// Size returns the window size
func (w *Windower) Size() time.Duration {
	return w.size
}

// Windows buckets samples into consecutive half-open windows covering
// [start, end). The first window starts at start floored to the window size,
// so every boundary is aligned. Windows with no samples are still emitted,
// with all aggregates zero.
func (w *Windower) Windows(samples []database.EntrySample, start, end time.Time) []FeatureWindow {
	alignedStart := start.UTC().Truncate(w.size)
	end = end.UTC()
	if !end.After(alignedStart) {
		return nil
	}

	count := int((end.Sub(alignedStart) + w.size - 1) / w.size)

	type bucket struct {
		total, errors, warns, infos, debugs int64
		services                            map[string]struct{}
	}
	buckets := make([]bucket, count)

	for _, s := range samples {
		ts := s.Timestamp.UTC()
		if ts.Before(alignedStart) || !ts.Before(end) {
			continue
		}
		i := int(ts.Sub(alignedStart) / w.size)

		b := &buckets[i]
		b.total++
		if s.Level != nil {
			switch *s.Level {
			case parser.LevelError:
				b.errors++
			case parser.LevelWarning:
				b.warns++
			case parser.LevelInfo:
				b.infos++
			case parser.LevelDebug:
				b.debugs++
			}
		}
		if s.Service != nil && *s.Service != "" {
			if b.services == nil {
				b.services = make(map[string]struct{})
			}
			b.services[*s.Service] = struct{}{}
		}
	}

	windows := make([]FeatureWindow, count)
	for i := range buckets {
		b := &buckets[i]
		ws := alignedStart.Add(time.Duration(i) * w.size)

		window := FeatureWindow{
			Start:          ws,
			End:            ws.Add(w.size),
			TotalCount:     b.total,
			ErrorCount:     b.errors,
			WarnCount:      b.warns,
			InfoCount:      b.infos,
			DebugCount:     b.debugs,
			UniqueServices: int64(len(b.services)),
		}
		if b.total > 0 {
			window.ErrorRate = roundRate(float64(b.errors) / float64(b.total))
		}
		windows[i] = window
	}

	return windows
}

// roundRate rounds to four decimal places
func roundRate(rate float64) float64 {
	return math.Round(rate*10000) / 10000
}

package parser

import (
	"strings"
	"time"
)

// Status is the per-line parse outcome
type Status string

const (
	StatusParsed  Status = "parsed"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Result holds the normalized fields extracted from one raw line. A zero
// Timestamp pointer, empty Level/Service or nil Message mean the field could
// not be recovered.
type Result struct {
	Timestamp  *time.Time
	Level      string
	Service    string
	Message    *string
	Status     Status
	Error      string
	Confidence float64
	Parser     string
}

// LineParser is the capability shared by every supported grammar.
// Detect must be a pure function of the line text; Parse may assume Detect
// returned true but must still degrade gracefully when it did not.
type LineParser interface {
	Name() string
	Detect(line string) bool
	Parse(line string) Result
}

// Canonical level labels stored on entries. WARN is always normalized to
// WARNING so the two never coexist in the store.
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// NormalizeLevel uppercases a level token and collapses WARN/WARNING
func NormalizeLevel(level string) string {
	upper := strings.ToUpper(level)
	if upper == "WARN" {
		return LevelWarning
	}
	return upper
}

// DefaultParsers returns the closed set of grammar variants in fixed
// priority order: JSON, application, Android logcat, access log.
func DefaultParsers() []LineParser {
	return []LineParser{
		NewJSONLogParser(),
		NewAppLogParser(),
		NewAndroidLogParser(),
		NewAccessLogParser(),
	}
}

// DetectFormat classifies a raw line into the best-matching grammar name,
// or "none" when no grammar matches. First match wins.
func DetectFormat(parsers []LineParser, line string) string {
	for _, p := range parsers {
		if p.Detect(line) {
			return p.Name()
		}
	}
	return "none"
}

func strptr(s string) *string { return &s }

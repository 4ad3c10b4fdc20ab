package parser

import (
	"regexp"
	"strings"
	"time"
)

// Application-style log lines:
//
//	2025-12-31T12:15:41Z INFO auth-service User login ok
//	2025-12-31 12:15:41,120 ERROR billing Payment failed
var (
	appTimestampRegex = regexp.MustCompile(
		`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?|` +
			`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:,\d{1,6})?)`)

	appLineRegex = regexp.MustCompile(
		`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?|` +
			`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:,\d{1,6})?)\s+` +
			`([A-Za-z]+)\s+([\w\-.]+)\s+(.*)$`)
)

var appISOLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// AppLogParser extracts timestamp, level, service and message from
// application log lines
type AppLogParser struct{}

func NewAppLogParser() *AppLogParser { return &AppLogParser{} }

func (p *AppLogParser) Name() string { return "app_v1" }

// Detect matches lines that begin with an ISO-8601-like timestamp token
func (p *AppLogParser) Detect(line string) bool {
	return appTimestampRegex.MatchString(line)
}

func (p *AppLogParser) Parse(line string) Result {
	m := appLineRegex.FindStringSubmatch(line)
	if m == nil {
		// Classification matched on the timestamp token alone. Recover the
		// timestamp if possible; the rest of the grammar did not line up.
		tsToken := appTimestampRegex.FindString(line)
		ts, ok := parseAppTimestamp(tsToken)
		if !ok {
			return Result{
				Status:     StatusFailed,
				Error:      "app timestamp parse failed",
				Confidence: 0,
				Parser:     p.Name(),
			}
		}
		rest := strings.TrimSpace(line[len(tsToken):])
		res := Result{
			Timestamp:  &ts,
			Status:     StatusPartial,
			Confidence: 0.6,
			Parser:     p.Name(),
		}
		if rest != "" {
			res.Message = strptr(rest)
		}
		return res
	}

	tsToken, levelToken, service, msg := m[1], m[2], m[3], m[4]

	ts, ok := parseAppTimestamp(tsToken)
	if !ok {
		return Result{
			Status:     StatusFailed,
			Error:      "app timestamp parse failed",
			Confidence: 0,
			Parser:     p.Name(),
		}
	}

	level := NormalizeLevel(levelToken)
	if !isKnownLevel(level) {
		// Token in the level position is not a recognized severity; keep the
		// timestamp and treat the remainder as an unstructured message.
		rest := strings.TrimSpace(line[len(tsToken):])
		return Result{
			Timestamp:  &ts,
			Message:    strptr(rest),
			Status:     StatusPartial,
			Confidence: 0.6,
			Parser:     p.Name(),
		}
	}

	return Result{
		Timestamp:  &ts,
		Level:      level,
		Service:    service,
		Message:    strptr(msg),
		Status:     StatusParsed,
		Confidence: 0.95,
		Parser:     p.Name(),
	}
}

// parseAppTimestamp parses both supported timestamp shapes and converts the
// result to UTC. The space-separated form carries no zone and is taken as UTC.
func parseAppTimestamp(token string) (time.Time, bool) {
	if strings.Contains(token, "T") {
		for _, layout := range appISOLayouts {
			if ts, err := time.Parse(layout, token); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	}

	// 2025-12-31 12:15:41,120 uses a comma millisecond separator
	normalized := strings.Replace(token, ",", ".", 1)
	for _, layout := range []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if ts, err := time.ParseInLocation(layout, normalized, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func isKnownLevel(level string) bool {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, "TRACE", "FATAL", "CRITICAL", "NOTICE":
		return true
	}
	return false
}

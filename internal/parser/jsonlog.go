package parser

import (
	"encoding/json"
	"strings"
	"time"
)

// Structured JSON log lines, e.g.
//
//	{"timestamp":"2025-12-31T12:15:41Z","level":"info","service":"auth","message":"ok"}
//
// Field names vary wildly between emitters, so a set of common variants is
// probed at the top level and one level down.
var (
	jsonTimestampKeys = []string{"timestamp", "time", "ts", "@timestamp", "datetime", "date"}
	jsonLevelKeys     = []string{"level", "severity", "lvl", "log_level", "loglevel", "priority"}
	jsonServiceKeys   = []string{"service", "source", "app", "application", "component", "logger", "program"}
	jsonMessageKeys   = []string{"message", "msg", "text", "body", "log"}
)

// JSONLogParser recovers normalized fields from single-line JSON objects
type JSONLogParser struct{}

func NewJSONLogParser() *JSONLogParser { return &JSONLogParser{} }

func (p *JSONLogParser) Name() string { return "json_v1" }

func (p *JSONLogParser) Detect(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var data map[string]any
	return json.Unmarshal([]byte(trimmed), &data) == nil
}

func (p *JSONLogParser) Parse(line string) Result {
	trimmed := strings.TrimSpace(line)

	var data map[string]any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return Result{
			Status:     StatusFailed,
			Error:      "invalid JSON object",
			Confidence: 0,
			Parser:     p.Name(),
		}
	}

	res := Result{Parser: p.Name()}
	found := 0

	if raw := findField(data, jsonTimestampKeys); raw != nil {
		if ts, ok := parseJSONTimestamp(raw); ok {
			res.Timestamp = &ts
			found++
		}
	}
	if raw := findField(data, jsonLevelKeys); raw != nil {
		res.Level = NormalizeLevel(stringify(raw))
		found++
	}
	if raw := findField(data, jsonServiceKeys); raw != nil {
		res.Service = stringify(raw)
		found++
	}
	if raw := findField(data, jsonMessageKeys); raw != nil {
		res.Message = strptr(stringify(raw))
		found++
	}

	switch {
	case found == 4:
		res.Status = StatusParsed
		res.Confidence = 0.95
	case found >= 1:
		res.Status = StatusPartial
		res.Confidence = 0.7
	default:
		// Valid JSON, but nothing recognizable in it.
		res.Status = StatusPartial
		res.Confidence = 0.5
	}

	return res
}

// findField looks a field up at the top level, then one level nested
func findField(data map[string]any, keys []string) any {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			return v
		}
	}
	for _, value := range data {
		nested, ok := value.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if v, ok := nested[key]; ok {
				return v
			}
		}
	}
	return nil
}

// parseJSONTimestamp accepts numeric epoch values and the textual timestamp
// shapes already handled by the app-log grammar
func parseJSONTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	case string:
		if ts, ok := parseAppTimestamp(v); ok {
			return ts, true
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05Z07:00"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

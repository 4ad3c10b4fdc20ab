package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Common/Combined-like HTTP access log lines:
//
//	127.0.0.1 - - [31/Dec/2025:12:15:41 +0000] "GET /path HTTP/1.1" 200 123 "-" "curl/7.88.1"
var (
	accessLineRegex = regexp.MustCompile(
		`^(\S+)\s+\S+\s+(\S+)\s+\[([^\]]+)\]\s+"([^"]*)"\s+(\d{3})\s+(\S+)` +
			`(?:\s+"([^"]*)"\s+"([^"]*)")?\s*$`)

	accessBracketRegex = regexp.MustCompile(
		`\[\d{2}/[A-Z][a-z]{2}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4}\]`)

	accessRequestRegex = regexp.MustCompile(`"(?:GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS)\s[^"]*"`)
)

const accessTimeLayout = "02/Jan/2006:15:04:05 -0700"

// AccessLogParser extracts client address, timestamp, request line and
// status code from HTTP access log lines
type AccessLogParser struct{}

func NewAccessLogParser() *AccessLogParser { return &AccessLogParser{} }

func (p *AccessLogParser) Name() string { return "access_v1" }

// Detect matches lines carrying a bracketed CLF timestamp or a quoted HTTP
// request token
func (p *AccessLogParser) Detect(line string) bool {
	return accessBracketRegex.MatchString(line) || accessRequestRegex.MatchString(line)
}

func (p *AccessLogParser) Parse(line string) Result {
	m := accessLineRegex.FindStringSubmatch(line)
	if m == nil {
		return Result{
			Status:     StatusFailed,
			Error:      "access log format mismatch",
			Confidence: 0,
			Parser:     p.Name(),
		}
	}

	tsToken, request, statusToken := m[3], m[4], m[5]

	ts, err := time.Parse(accessTimeLayout, tsToken)
	if err != nil {
		return Result{
			Status:     StatusFailed,
			Error:      "access timestamp parse failed",
			Confidence: 0,
			Parser:     p.Name(),
		}
	}
	utc := ts.UTC()

	statusCode, err := strconv.Atoi(statusToken)
	if err != nil || statusCode < 100 || statusCode > 599 {
		return Result{
			Timestamp:  &utc,
			Status:     StatusFailed,
			Error:      "access status code parse failed",
			Confidence: 0,
			Parser:     p.Name(),
		}
	}

	res := Result{
		Timestamp: &utc,
		Parser:    p.Name(),
	}

	if isWellFormedRequestLine(request) {
		res.Message = strptr(request)
		res.Status = StatusParsed
		res.Confidence = 0.85
	} else {
		// Timestamp and status recovered, request line is garbage.
		res.Status = StatusPartial
		res.Confidence = 0.7
		res.Error = "malformed request line"
		if request != "" {
			res.Message = strptr(request)
		}
	}

	return res
}

// isWellFormedRequestLine accepts "METHOD path HTTP/x.y"
func isWellFormedRequestLine(request string) bool {
	parts := strings.Fields(request)
	return len(parts) == 3 && strings.HasPrefix(parts[2], "HTTP/")
}

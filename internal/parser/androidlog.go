package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Android logcat lines in two shapes:
//
//	threadtime: 11-01 08:11:52.482  1203  1203 D AndroidRuntime: CheckJNI is OFF
//	brief:      D/AndroidRuntime( 1203): CheckJNI is OFF
var (
	androidThreadtimeRegex = regexp.MustCompile(
		`^(\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}\.\d+)\s+\d+\s+\d+\s+([VDIWEFA])\s+([^:]+?):\s+(.*)$`)

	androidBriefRegex = regexp.MustCompile(
		`^([VDIWEFA])/([^(]+?)\(\s*\d+\):\s+(.*)$`)
)

// Logcat priorities collapse onto the canonical level set
var androidPriorityMap = map[string]string{
	"V": LevelDebug,
	"D": LevelDebug,
	"I": LevelInfo,
	"W": LevelWarning,
	"E": LevelError,
	"F": LevelError,
	"A": LevelError,
}

// AndroidLogParser handles logcat threadtime and brief formats
type AndroidLogParser struct{}

func NewAndroidLogParser() *AndroidLogParser { return &AndroidLogParser{} }

func (p *AndroidLogParser) Name() string { return "android_v1" }

func (p *AndroidLogParser) Detect(line string) bool {
	return androidThreadtimeRegex.MatchString(line) || androidBriefRegex.MatchString(line)
}

func (p *AndroidLogParser) Parse(line string) Result {
	if m := androidThreadtimeRegex.FindStringSubmatch(line); m != nil {
		tsToken, pri, tag, msg := m[1], m[2], m[3], m[4]

		res := Result{
			Level:   androidPriorityMap[pri],
			Service: strings.TrimSpace(tag),
			Message: strptr(msg),
			Parser:  p.Name(),
		}

		if ts, ok := parseAndroidTimestamp(tsToken); ok {
			res.Timestamp = &ts
			res.Status = StatusParsed
			res.Confidence = 0.90
		} else {
			res.Status = StatusPartial
			res.Confidence = 0.6
			res.Error = "android timestamp parse failed"
		}
		return res
	}

	if m := androidBriefRegex.FindStringSubmatch(line); m != nil {
		pri, tag, msg := m[1], m[2], m[3]

		// Brief format carries no timestamp at all.
		return Result{
			Level:      androidPriorityMap[pri],
			Service:    strings.TrimSpace(tag),
			Message:    strptr(msg),
			Status:     StatusPartial,
			Confidence: 0.6,
			Parser:     p.Name(),
		}
	}

	return Result{
		Status:     StatusFailed,
		Error:      "logcat format mismatch",
		Confidence: 0,
		Parser:     p.Name(),
	}
}

var androidSpaceRun = regexp.MustCompile(`\s+`)

// parseAndroidTimestamp parses MM-DD HH:MM:SS.mmm; logcat omits the year,
// so the current year is assumed
func parseAndroidTimestamp(token string) (time.Time, bool) {
	year := time.Now().UTC().Year()
	normalized := androidSpaceRun.ReplaceAllString(token, " ")
	ts, err := time.ParseInLocation("2006-01-02 15:04:05.999999",
		strconv.Itoa(year)+"-"+normalized, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

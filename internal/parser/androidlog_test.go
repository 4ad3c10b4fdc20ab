package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAndroidLogParserThreadtime(t *testing.T) {
	t.Parallel()

	p := NewAndroidLogParser()

	line := "11-01 08:11:52.482  1203  1203 D AndroidRuntime: CheckJNI is OFF"
	require.True(t, p.Detect(line))

	res := p.Parse(line)
	assert.Equal(t, StatusParsed, res.Status)
	assert.Equal(t, "DEBUG", res.Level)
	assert.Equal(t, "AndroidRuntime", res.Service)
	require.NotNil(t, res.Message)
	assert.Equal(t, "CheckJNI is OFF", *res.Message)

	// Logcat omits the year; the current one is assumed.
	require.NotNil(t, res.Timestamp)
	assert.Equal(t, time.Now().UTC().Year(), res.Timestamp.Year())
	assert.Equal(t, time.Month(11), res.Timestamp.Month())
	assert.Equal(t, 8, res.Timestamp.Hour())
}

func TestAndroidLogParserBrief(t *testing.T) {
	t.Parallel()

	p := NewAndroidLogParser()

	line := "E/ActivityManager( 1203): ANR in com.example.app"
	require.True(t, p.Detect(line))

	res := p.Parse(line)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, "ERROR", res.Level)
	assert.Equal(t, "ActivityManager", res.Service)
	require.NotNil(t, res.Message)
	assert.Equal(t, "ANR in com.example.app", *res.Message)
	assert.Nil(t, res.Timestamp)
}

func TestAndroidLogParserPriorities(t *testing.T) {
	t.Parallel()

	p := NewAndroidLogParser()

	tests := []struct {
		pri   string
		level string
	}{
		{"V", "DEBUG"},
		{"D", "DEBUG"},
		{"I", "INFO"},
		{"W", "WARNING"},
		{"E", "ERROR"},
		{"F", "ERROR"},
		{"A", "ERROR"},
	}

	for _, tt := range tests {
		res := p.Parse(tt.pri + "/Tag( 42): msg")
		assert.Equal(t, tt.level, res.Level, "priority %s", tt.pri)
	}
}

func TestAndroidLogParserDetect(t *testing.T) {
	t.Parallel()

	p := NewAndroidLogParser()
	assert.False(t, p.Detect("2025-12-31T12:15:41Z INFO svc msg"))
	assert.False(t, p.Detect("###garbage###"))
}

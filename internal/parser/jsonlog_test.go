package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogParserParsed(t *testing.T) {
	t.Parallel()

	p := NewJSONLogParser()

	line := `{"timestamp":"2025-12-31T12:15:41Z","level":"error","service":"billing","message":"charge failed"}`
	require.True(t, p.Detect(line))

	res := p.Parse(line)
	assert.Equal(t, StatusParsed, res.Status)
	assert.Equal(t, "ERROR", res.Level)
	assert.Equal(t, "billing", res.Service)
	require.NotNil(t, res.Message)
	assert.Equal(t, "charge failed", *res.Message)
	require.NotNil(t, res.Timestamp)
	assert.True(t, res.Timestamp.Equal(time.Date(2025, 12, 31, 12, 15, 41, 0, time.UTC)))
	assert.Equal(t, 0.95, res.Confidence)
}

func TestJSONLogParserKeyVariants(t *testing.T) {
	t.Parallel()

	p := NewJSONLogParser()

	tests := []struct {
		name    string
		line    string
		level   string
		service string
	}{
		{
			name:    "severity and source",
			line:    `{"@timestamp":"2025-12-31T12:15:41Z","severity":"warn","source":"edge","msg":"x"}`,
			level:   "WARNING",
			service: "edge",
		},
		{
			name:    "nested fields one level down",
			line:    `{"meta":{"level":"info","logger":"api"},"message":"ok","time":"2025-12-31T12:15:41Z"}`,
			level:   "INFO",
			service: "api",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := p.Parse(tt.line)
			assert.Equal(t, StatusParsed, res.Status)
			assert.Equal(t, tt.level, res.Level)
			assert.Equal(t, tt.service, res.Service)
		})
	}
}

func TestJSONLogParserEpochTimestamp(t *testing.T) {
	t.Parallel()

	p := NewJSONLogParser()

	res := p.Parse(`{"ts":1767183341,"level":"info","app":"auth","log":"ok"}`)
	assert.Equal(t, StatusParsed, res.Status)
	require.NotNil(t, res.Timestamp)
	assert.Equal(t, int64(1767183341), res.Timestamp.Unix())
}

func TestJSONLogParserPartial(t *testing.T) {
	t.Parallel()

	p := NewJSONLogParser()

	// Recognizable message only.
	res := p.Parse(`{"message":"lonely"}`)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 0.7, res.Confidence)

	// Valid JSON, nothing recognizable.
	res = p.Parse(`{"foo":"bar"}`)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestJSONLogParserDetect(t *testing.T) {
	t.Parallel()

	p := NewJSONLogParser()
	assert.True(t, p.Detect(`{"message":"ok"}`))
	assert.True(t, p.Detect(`   {"message":"ok"}`))
	assert.False(t, p.Detect(`{not json`))
	assert.False(t, p.Detect(`plain text`))
}

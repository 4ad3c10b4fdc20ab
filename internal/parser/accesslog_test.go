package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessLogParserParsed(t *testing.T) {
	t.Parallel()

	p := NewAccessLogParser()

	line := `127.0.0.1 - - [31/Dec/2025:12:15:41 +0000] "GET /api/v1/health HTTP/1.1" 200 123 "-" "curl/7.88.1"`
	require.True(t, p.Detect(line))

	res := p.Parse(line)
	assert.Equal(t, StatusParsed, res.Status)
	require.NotNil(t, res.Message)
	assert.Equal(t, "GET /api/v1/health HTTP/1.1", *res.Message)
	require.NotNil(t, res.Timestamp)
	assert.True(t, res.Timestamp.Equal(time.Date(2025, 12, 31, 12, 15, 41, 0, time.UTC)))
	assert.Equal(t, "access_v1", res.Parser)
	assert.Equal(t, 0.85, res.Confidence)
}

func TestAccessLogParserTimezoneConversion(t *testing.T) {
	t.Parallel()

	p := NewAccessLogParser()

	// -0500 offset must land five hours later in UTC.
	line := `10.0.0.1 - frank [31/Dec/2025:07:15:41 -0500] "POST /login HTTP/1.1" 302 0`
	res := p.Parse(line)

	assert.Equal(t, StatusParsed, res.Status)
	require.NotNil(t, res.Timestamp)
	assert.True(t, res.Timestamp.Equal(time.Date(2025, 12, 31, 12, 15, 41, 0, time.UTC)))
}

func TestAccessLogParserPartialRequest(t *testing.T) {
	t.Parallel()

	p := NewAccessLogParser()

	tests := []struct {
		name string
		line string
	}{
		{"empty request", `127.0.0.1 - - [31/Dec/2025:12:15:41 +0000] "" 400 0`},
		{"truncated request", `127.0.0.1 - - [31/Dec/2025:12:15:41 +0000] "GET" 400 0`},
		{"binary junk request", `127.0.0.1 - - [31/Dec/2025:12:15:41 +0000] "\x16\x03\x01" 400 0`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := p.Parse(tt.line)
			assert.Equal(t, StatusPartial, res.Status)
			require.NotNil(t, res.Timestamp)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestAccessLogParserFailed(t *testing.T) {
	t.Parallel()

	p := NewAccessLogParser()

	// Bracketed timestamp present but month token is garbage.
	res := p.Parse(`127.0.0.1 - - [31/Xyz/2025:12:15:41 +0000] "GET / HTTP/1.1" 200 1`)
	assert.Equal(t, StatusFailed, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestAccessLogParserDetect(t *testing.T) {
	t.Parallel()

	p := NewAccessLogParser()
	assert.True(t, p.Detect(`127.0.0.1 - - [31/Dec/2025:12:15:41 +0000] "GET / HTTP/1.1" 200 1`))
	assert.True(t, p.Detect(`weird prefix "GET /path HTTP/1.1" suffix`))
	assert.False(t, p.Detect("2025-12-31T12:15:41Z INFO svc msg"))
	assert.False(t, p.Detect("###garbage###"))
}

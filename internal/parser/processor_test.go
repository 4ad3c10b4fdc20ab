package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcessorUnrecognizedFormat(t *testing.T) {
	t.Parallel()

	lp := NewLineProcessor(zap.NewNop())

	res := lp.Process("###garbage###")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "unrecognized format", res.Error)
	assert.Empty(t, res.Parser)
	assert.Zero(t, res.Confidence)
}

func TestProcessorPriorityOrder(t *testing.T) {
	t.Parallel()

	lp := NewLineProcessor(zap.NewNop())

	tests := []struct {
		name   string
		line   string
		parser string
	}{
		{"json wins over everything", `{"timestamp":"2025-12-31T12:15:41Z","level":"info","service":"s","message":"m"}`, "json_v1"},
		{"app log", "2025-12-31T12:15:41Z INFO auth-service ok", "app_v1"},
		{"android threadtime", "11-01 08:11:52.482  1203  1203 D AndroidRuntime: CheckJNI is OFF", "android_v1"},
		{"access log", `127.0.0.1 - - [31/Dec/2025:12:15:41 +0000] "GET / HTTP/1.1" 200 1`, "access_v1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := lp.Process(tt.line)
			assert.Equal(t, tt.parser, res.Parser)
			assert.NotEqual(t, StatusFailed, res.Status)
		})
	}
}

func TestProcessorStripsLineEndings(t *testing.T) {
	t.Parallel()

	lp := NewLineProcessor(zap.NewNop())

	res := lp.Process("2025-12-31T12:15:41Z INFO auth-service ok\r\n")
	assert.Equal(t, StatusParsed, res.Status)
	require.NotNil(t, res.Message)
	assert.Equal(t, "ok", *res.Message)
}

// panickyParser blows up inside Parse to exercise the fault boundary.
type panickyParser struct{}

func (panickyParser) Name() string            { return "boom_v1" }
func (panickyParser) Detect(line string) bool { return true }
func (panickyParser) Parse(line string) Result {
	panic("internal parser bug")
}

func TestProcessorConvertsPanicToFailedResult(t *testing.T) {
	t.Parallel()

	lp := NewLineProcessorWith(zap.NewNop(), []LineParser{panickyParser{}})

	res := lp.Process("anything")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "parser fault")
	assert.Equal(t, "boom_v1", res.Parser)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	parsers := DefaultParsers()
	assert.Equal(t, "app_v1", DetectFormat(parsers, "2025-12-31T12:15:41Z INFO s m"))
	assert.Equal(t, "none", DetectFormat(parsers, "###garbage###"))
}

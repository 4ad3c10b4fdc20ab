package parser

import (
	"strings"

	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/common"
)

// LineProcessor turns a raw line into a Result, always. It runs format
// detection over the variant list in priority order and wraps the matched
// parser in a fault boundary, so no panic or error escapes past Process.
type LineProcessor struct {
	parsers []LineParser
	logger  *zap.Logger
}

// NewLineProcessor creates a processor over the default grammar set
func NewLineProcessor(logger *zap.Logger) *LineProcessor {
	return NewLineProcessorWith(logger, DefaultParsers())
}

// NewLineProcessorWith creates a processor over an explicit grammar set,
// evaluated in the given order
func NewLineProcessorWith(logger *zap.Logger, parsers []LineParser) *LineProcessor {
	return &LineProcessor{parsers: parsers, logger: logger}
}

// Process converts one raw line into normalized fields. The returned Result
// always carries a definite Status; a line matching no grammar, or blowing up
// a grammar internally, comes back as StatusFailed with a reason.
func (lp *LineProcessor) Process(rawLine string) Result {
	line := strings.TrimRight(rawLine, "\r\n")

	for _, p := range lp.parsers {
		if !p.Detect(line) {
			continue
		}

		var res Result
		err := common.SafeFunc(func() error {
			res = p.Parse(line)
			return nil
		})
		if err != nil {
			// Parser fault is a line-level event, never a stream-level one.
			lp.logger.Warn("parser fault",
				zap.String("parser", p.Name()),
				zap.Error(err))
			return Result{
				Status:     StatusFailed,
				Error:      "parser fault: " + firstLine(err.Error()),
				Confidence: 0,
				Parser:     p.Name(),
			}
		}
		return res
	}

	return Result{
		Status:     StatusFailed,
		Error:      "unrecognized format",
		Confidence: 0,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

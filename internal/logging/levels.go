package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and is used for wire-level detail such as
// probe responses and per-chunk embedding calls.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" in addition to the
// names zapcore understands.
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.EqualFold(strings.TrimSpace(level), "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

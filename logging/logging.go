package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// TraceLevel is accepted as an alias for DebugLevel
	TraceLevel = "trace"
	// DebugLevel indicates a log message's level of criticality
	DebugLevel = "debug"
	// InfoLevel indicates a log message's level of criticality
	InfoLevel = "info"
	// WarnLevel indicates a log message's level of criticality
	WarnLevel = "warn"
	// ErrorLevel indicates a log message's level of criticality
	ErrorLevel = "error"
	// FatalLevel indicates a log message's level of criticality
	FatalLevel = "fatal"
)

// ParseLevel translates a level name to a zap level
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case TraceLevel, DebugLevel:
		return zapcore.DebugLevel, nil
	case "", InfoLevel:
		return zapcore.InfoLevel, nil
	case WarnLevel, "warning":
		return zapcore.WarnLevel, nil
	case ErrorLevel:
		return zapcore.ErrorLevel, nil
	case FatalLevel:
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// New builds a production zap logger which emits at or above the given level
func New(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	conf := zap.NewProductionConfig()
	conf.Level = zap.NewAtomicLevelAt(lvl)
	conf.Sampling = nil
	return conf.Build()
}

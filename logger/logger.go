// Package logger provides structured logging for the devkit, backed by
// zap's sugared logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names for consistent structured logging. Use these
// constants instead of raw strings.
const (
	FieldSource     = "source"
	FieldDest       = "dest"
	FieldTopic      = "topic"
	FieldSchema     = "schema"
	FieldChannel    = "channel"
	FieldCount      = "count"
	FieldDurationMS = "duration_ms"
	FieldError      = "error"
	FieldComponent  = "component"
)

// New returns a console logger. verbose enables debug-level output.
func New(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	log, err := cfg.Build()
	if err != nil {
		// static config, cannot fail in practice
		panic(err)
	}
	return log.Sugar()
}

// Nop returns a logger that discards everything. Used by library callers
// that do not pass a logger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. Defaults to a no-op logger so library code
// and tests can log without calling Init.
var Log = zap.NewNop()

// Init sets up the global logger. Call once in main().
func Init() error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level.SetLevel(parseLevel(level))
	}
	log, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = log
	return nil
}

// Named returns a child logger scoped to a subsystem.
func Named(name string) *zap.Logger {
	return Log.Named(name)
}

// parseLevel is a helper mapping strings to zapcore.Level
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

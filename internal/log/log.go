// Package log provides structured logging for go-franka.
// It wraps zap with sensible defaults for production use.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error"
func Init(level string) {
	once.Do(func() {
		logger = New(level, os.Getenv("GO_ENV") == "production")
		zap.ReplaceGlobals(logger)
	})
}

// New builds a standalone logger. JSON output is used in production,
// console output otherwise.
func New(level string, production bool) *zap.Logger {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if production {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl)
	return zap.New(core)
}

// L returns the global logger instance, initializing it at info level if
// Init has not been called.
func L() *zap.Logger {
	Init("info")
	return logger
}

// Or returns l when it is non-nil and the global logger otherwise.
func Or(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return L()
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = L().Sync()
}

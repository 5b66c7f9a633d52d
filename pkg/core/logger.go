package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides leveled and structured logging.
// *zap.SugaredLogger satisfies it, so any zap configuration can be plugged in.
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Errorw logs an error message with key/value pairs
	Errorw(msg string, keysAndValues ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Warnw logs a warning message with key/value pairs
	Warnw(msg string, keysAndValues ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Infow logs an informational message with key/value pairs
	Infow(msg string, keysAndValues ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// Debugw logs a debug message with key/value pairs
	Debugw(msg string, keysAndValues ...interface{})
}

var _ Logger = (*zap.SugaredLogger)(nil)

// NewDefaultLogger creates a JSON logger at info level writing to stderr.
// It falls back to a no-op logger if zap cannot build its sinks.
func NewDefaultLogger() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return NewNopLogger()
	}
	return l.Sugar()
}

// NewDevelopmentLogger creates a human readable console logger at debug level.
func NewDevelopmentLogger() Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	l, err := cfg.Build()
	if err != nil {
		return NewNopLogger()
	}
	return l.Sugar()
}

// NewLevelLogger creates a production logger at the named level ("debug", "info", "warn", "error").
func NewLevelLogger(level string) (Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewZapLogger adapts an existing zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l.Sugar()
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}

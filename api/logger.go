package api

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger interface
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	With(args ...interface{}) Logger
}

var (
	logLevel   = new(slog.LevelVar)
	logMu      sync.RWMutex
	logHandler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
)

// slogLogger implements Logger
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a new logger with optional prefix
func NewLogger(prefix string) Logger {
	logMu.RLock()
	l := slog.New(logHandler)
	logMu.RUnlock()

	if prefix != "" {
		l = l.With("component", prefix)
	}
	return &slogLogger{logger: l}
}

// SetLogLevel sets the process wide level: debug, info, warn or error
func SetLogLevel(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "", "info":
		logLevel.Set(slog.LevelInfo)
	case "warn", "warning":
		logLevel.Set(slog.LevelWarn)
	case "error", "crit":
		logLevel.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

// SetLogOutput redirects loggers created afterwards
func SetLogOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logHandler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
}

func (l *slogLogger) Debug(msg string, args ...interface{}) {
	l.logger.Debug(msg, args...)
}

func (l *slogLogger) Info(msg string, args ...interface{}) {
	l.logger.Info(msg, args...)
}

func (l *slogLogger) Warn(msg string, args ...interface{}) {
	l.logger.Warn(msg, args...)
}

func (l *slogLogger) Error(msg string, args ...interface{}) {
	l.logger.Error(msg, args...)
}

func (l *slogLogger) With(args ...interface{}) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

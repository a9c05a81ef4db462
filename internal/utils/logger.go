package utils

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Logger provides leveled logging with verbose mode support.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	level   *slog.LevelVar
	slog    *slog.Logger
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// NewLogger creates a logger writing text records to w.
func NewLogger(w io.Writer) *Logger {
	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)
	return &Logger{
		level: level,
		slog:  slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// GetLogger returns the singleton logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = NewLogger(os.Stderr)
	})
	return loggerInstance
}

// SetVerboseMode sets the verbose mode globally.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetVerbose sets the verbose mode for this logger instance.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
	if verbose {
		l.level.Set(slog.LevelDebug)
	} else {
		l.level.Set(slog.LevelInfo)
	}
}

// IsVerbose returns whether verbose mode is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// SetOutput redirects the logger, keeping its level.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slog = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l.level}))
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slog
}

// formatMessage formats a message with optional printf-style arguments.
func formatMessage(msgOrFormat string, args ...interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

func (l *Logger) log(level slog.Level, msgOrFormat string, args ...interface{}) {
	logger := l.Slog()
	if !logger.Enabled(context.Background(), level) {
		return
	}
	logger.Log(context.Background(), level, formatMessage(msgOrFormat, args...))
}

// Debug logs a debug message (only shown when verbose=true).
func (l *Logger) Debug(msgOrFormat string, args ...interface{}) {
	l.log(slog.LevelDebug, msgOrFormat, args...)
}

// Info logs an info message.
func (l *Logger) Info(msgOrFormat string, args ...interface{}) {
	l.log(slog.LevelInfo, msgOrFormat, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msgOrFormat string, args ...interface{}) {
	l.log(slog.LevelWarn, msgOrFormat, args...)
}

// Error logs an error message.
func (l *Logger) Error(msgOrFormat string, args ...interface{}) {
	l.log(slog.LevelError, msgOrFormat, args...)
}

// Debugf logs a debug message using the global logger.
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof logs an info message using the global logger.
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf logs a warning message using the global logger.
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf logs an error message using the global logger.
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// BackgroundLogger mirrors daemon logs to a file so reminders fired while
// no terminal is attached can still be inspected.
type BackgroundLogger struct {
	logger   *log.Logger
	logFile  *os.File
	enabled  bool
	filePath string
}

// NewBackgroundLogger opens (or creates) the log file at path. When enabled
// is false, or the file cannot be opened, it degrades to io.Discard.
func NewBackgroundLogger(path string, enabled bool) (*BackgroundLogger, error) {
	bl := &BackgroundLogger{
		logger:   log.New(io.Discard, "", log.LstdFlags),
		filePath: path,
	}
	if !enabled || path == "" {
		return bl, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return bl, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return bl, err
	}

	bl.logFile = file
	bl.logger = log.New(file, "", log.LstdFlags)
	bl.enabled = true
	return bl, nil
}

// Writer returns the file writer, or io.Discard when disabled.
func (bl *BackgroundLogger) Writer() io.Writer {
	if bl.logFile == nil {
		return io.Discard
	}
	return bl.logFile
}

// Printf logs a formatted message.
func (bl *BackgroundLogger) Printf(format string, args ...interface{}) {
	if bl.logger != nil {
		bl.logger.Printf(format, args...)
	}
}

// Close closes the log file.
func (bl *BackgroundLogger) Close() {
	if bl.logFile != nil {
		_ = bl.logFile.Close()
		bl.logFile = nil
	}
	bl.logger = log.New(io.Discard, "", log.LstdFlags)
	bl.enabled = false
}

// GetLogPath returns the log file path.
func (bl *BackgroundLogger) GetLogPath() string {
	return bl.filePath
}

// IsEnabled returns whether background logging is enabled.
func (bl *BackgroundLogger) IsEnabled() bool {
	return bl.enabled
}

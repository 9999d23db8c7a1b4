// Package logger provides the process-wide logger for screen-runner.
//
// Logging is a no-op until Init is called. Init writes JSON lines to a
// rotating log file and, optionally, human-readable lines to a console writer.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = zap.NewNop()
	sugar        = globalLogger.Sugar()
	logFile      *lumberjack.Logger
	mu           sync.Mutex
)

// Options configures the logger.
type Options struct {
	Path       string    // Log file path; empty disables the file sink
	Level      string    // debug, info, warn, error (default info)
	Console    io.Writer // Optional console sink (e.g. os.Stderr for --verbose)
	MaxSizeMB  int       // Rotate after this many megabytes (default 20)
	MaxBackups int       // Rotated files to keep (default 3)
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	return InitWithOptions(Options{Path: logPath})
}

// InitWithOptions initializes the global logger.
func InitWithOptions(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var cores []zapcore.Core

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	if opts.Path != "" {
		if err := probeWritable(opts.Path); err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		logFile = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    valueOr(opts.MaxSizeMB, 20),
			MaxBackups: valueOr(opts.MaxBackups, 3),
		}
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(logFile), level))
	}

	if opts.Console != nil {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(opts.Console), level))
	}

	if len(cores) == 0 {
		globalLogger = zap.NewNop()
	} else {
		globalLogger = zap.New(zapcore.NewTee(cores...)).Named("screen-runner")
	}
	sugar = globalLogger.Sugar()
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	_ = globalLogger.Sync()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = zap.NewNop()
	sugar = globalLogger.Sugar()
}

// L returns the structured logger.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// GetWriter returns the underlying log file writer.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}

func current() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return sugar
}

// probeWritable fails early on paths lumberjack would only reject at first write.
func probeWritable(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func valueOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

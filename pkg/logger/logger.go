// Package logger provides the process-wide run log.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	globalLogger = zerolog.Nop()
	logFile      *os.File
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	return InitWithLevel(logPath, zerolog.InfoLevel)
}

// InitWithLevel initializes the global logger at the given minimum level.
func InitWithLevel(logPath string, level zerolog.Level) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = newLogger(f, level)
	return nil
}

// InitWriter routes the global logger to w. Used by tests and by commands
// that log to stderr instead of a run directory.
func InitWriter(w io.Writer, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = newLogger(w, level)
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05.000000"}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = zerolog.Nop()
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Info().Msgf(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Debug().Msgf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Error().Msgf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Warn().Msgf(format, v...)
}

// Step logs one episode step with structured fields.
func Step(episodeID string, step int, actionType, encoded string) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Info().
		Str("episode", episodeID).
		Int("step", step).
		Str("type", actionType).
		Msg(encoded)
}

// Since logs how long an operation took at debug level.
func Since(what string, start time.Time) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger.Debug().Dur("elapsed", time.Since(start)).Msg(what)
}

// GetWriter returns the underlying writer for use by child processes.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}

// Package log provides structured logging for the rewind engine.
package log

import "strings"

var defaultLevel = LevelWarn

// SetDefaultLevel sets the default log level.
func SetDefaultLevel(level Level) {
	defaultLevel = level
}

// GetDefaultLevel returns the default log level.
func GetDefaultLevel() Level {
	return defaultLevel
}

// Logger defines the logging interface used throughout the engine. It is
// intended to align with the slog package while allowing adapters for
// other libraries.
type Logger interface {
	// Debug logs a message at debug level with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs a message at info level with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a message at warn level with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs a message at error level with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a Logger that includes the given attributes in each
	// output operation.
	With(args ...any) Logger
}

// LevelFromString converts a string to a Level.
func LevelFromString(value string) Level {
	switch strings.ToLower(value) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return defaultLevel
	}
}

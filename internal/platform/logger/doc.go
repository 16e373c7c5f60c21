// Package logger configures the application's structured logging with the
// standard library log/slog package.
package logger

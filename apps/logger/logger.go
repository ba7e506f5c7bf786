// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package logger provides the structured logger used by every cache component.
// It wraps log/slog and stamps each entry with the operation's correlation id.
package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

type Level string

const (
	Info  Level = "info"
	Err   Level = "error"
	Warn  Level = "warn"
	Debug Level = "debug"
)

// CorrelationIDField is the attribute name used for correlation ids.
const CorrelationIDField = "correlation_id"

// Logger writes structured entries to a *slog.Logger. The zero value and a nil *Logger
// discard everything.
type Logger struct {
	logging *slog.Logger
}

// New creates a new logger instance.
func New(slogLogger *slog.Logger) (*Logger, error) {
	if slogLogger == nil {
		return nil, fmt.Errorf("invalid input; expected *slog.Logger")
	}
	return &Logger{logging: slogLogger}, nil
}

// Default returns a Logger writing to slog.Default().
func Default() *Logger {
	return &Logger{logging: slog.Default()}
}

// Nop returns a Logger that discards all entries.
func Nop() *Logger {
	return &Logger{}
}

// Log writes message at level with the given fields. If ctx carries a correlation id it is
// added to the fields.
func (a *Logger) Log(ctx context.Context, level Level, message string, fields ...any) {
	if a == nil || a.logging == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var slogLevel slog.Level
	switch level {
	case Info:
		slogLevel = slog.LevelInfo
	case Err:
		slogLevel = slog.LevelError
	case Warn:
		slogLevel = slog.LevelWarn
	case Debug:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}
	if id := CorrelationID(ctx); id != "" {
		fields = append(fields, slog.String(CorrelationIDField, id))
	}
	a.logging.Log(ctx, slogLevel, message, fields...)
}

// Field creates a slog field for any value.
func Field(key string, value any) any {
	return slog.Any(key, value)
}

type correlationKey struct{}

// WithCorrelationID returns a child of ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// EnsureCorrelationID returns ctx if it already carries a correlation id. Otherwise it
// returns a child of ctx with a freshly generated one.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if CorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, uuid.NewString())
}

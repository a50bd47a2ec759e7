package logger

import (
	"context"
	"sync/atomic"
)

type loggerKey struct{}

type holder struct{ l Logger }

var global atomic.Pointer[holder]

func init() {
	SetGlobal(New(&Config{Level: InfoLevel, Format: "text"}))
}

// FromContext returns the logger attached with WithContext, or the global one.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
			return l
		}
	}
	return Global()
}

// Global returns the process-wide logger.
func Global() Logger { return global.Load().l }

// SetGlobal replaces the process-wide logger. nil is ignored.
func SetGlobal(l Logger) {
	if l != nil {
		global.Store(&holder{l: l})
	}
}

// SetLevel sets the level of the global logger.
func SetLevel(level Level) { Global().SetLevel(level) }

func Debug(msg string, args ...any) { Global().Debug(msg, args...) }
func Info(msg string, args ...any)  { Global().Info(msg, args...) }
func Warn(msg string, args ...any)  { Global().Warn(msg, args...) }
func Error(msg string, args ...any) { Global().Error(msg, args...) }

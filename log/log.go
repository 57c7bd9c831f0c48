package log

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level uint8

const (
	LevelFatal Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

type contextKey string

const loggerCtxKey = contextKey("logger")

var (
	currentLevel  = LevelInfo
	defaultLogger = logrus.New()
	mu            sync.RWMutex
)

// SetLevel sets the global log level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = l
	defaultLogger.Level = logrus.Level(uint32(l) + 1)
}

// SetLevelString sets the log level from its name ("warn", "debug", ...).
// Unknown names fall back to "info".
func SetLevelString(s string) {
	level := levelFromString(s)
	SetLevel(level)
}

func levelFromString(s string) Level {
	switch strings.ToLower(s) {
	case "fatal":
		return LevelFatal
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	default:
		return LevelInfo
	}
}

// CurrentLevel returns the global log level.
func CurrentLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects all log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger.SetOutput(w)
}

// NewContext returns a ctx carrying the given key/value pairs. Entries logged
// with that ctx include the pairs automatically.
func NewContext(ctx context.Context, keyValuePairs ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := entryFromContext(ctx)
	logger = addFields(logger, keyValuePairs)
	return context.WithValue(ctx, loggerCtxKey, logger)
}

func Fatal(args ...any) { logAt(LevelFatal, args...); defaultLogger.Exit(1) }
func Error(args ...any) { logAt(LevelError, args...) }
func Warn(args ...any)  { logAt(LevelWarn, args...) }
func Info(args ...any)  { logAt(LevelInfo, args...) }
func Debug(args ...any) { logAt(LevelDebug, args...) }
func Trace(args ...any) { logAt(LevelTrace, args...) }

// IsGreaterOrEqualTo reports whether the global level is at least l.
func IsGreaterOrEqualTo(l Level) bool {
	return CurrentLevel() >= l
}

// logAt accepts the flexible argument shape used across the codebase:
// an optional context.Context first, then the message, then alternating
// key/value pairs, with bare error values allowed anywhere in the tail.
func logAt(level Level, args ...any) {
	if CurrentLevel() < level {
		return
	}
	if len(args) == 0 {
		return
	}

	var entry *logrus.Entry
	if ctx, ok := args[0].(context.Context); ok {
		entry = entryFromContext(ctx)
		args = args[1:]
	} else {
		entry = logrus.NewEntry(defaultLogger)
	}
	if len(args) == 0 {
		return
	}

	msg := fmt.Sprint(args[0])
	entry = addFields(entry, args[1:])

	switch level {
	case LevelFatal:
		entry.Fatal(msg)
	case LevelError:
		entry.Error(msg)
	case LevelWarn:
		entry.Warn(msg)
	case LevelInfo:
		entry.Info(msg)
	case LevelDebug:
		entry.Debug(msg)
	case LevelTrace:
		entry.Trace(msg)
	}
}

func entryFromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(loggerCtxKey).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(defaultLogger)
}

func addFields(entry *logrus.Entry, keyValuePairs []any) *logrus.Entry {
	for i := 0; i < len(keyValuePairs); i++ {
		switch v := keyValuePairs[i].(type) {
		case error:
			if v != nil {
				entry = entry.WithField("error", v.Error())
			}
		case string:
			if i+1 < len(keyValuePairs) {
				entry = entry.WithField(v, keyValuePairs[i+1])
				i++
			} else {
				entry = entry.WithField(v, "")
			}
		default:
			entry = entry.WithField(fmt.Sprintf("arg%d", i), v)
		}
	}
	return entry
}

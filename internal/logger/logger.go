// Package logger provides the package-wide structured logger for exmdb-go.
//
// It is a thin wrapper around log/slog: a single process-wide logger, an
// atomically swappable level, and text/JSON output. Library code never
// fails or blocks on logging; it exists purely for operational visibility
// into connection, dispatch, and table-lifecycle events.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level mirrors slog.Level. Its zero value is LevelDebug; the package starts
// at LevelWarn, the quiet default for a library embedded in someone else's
// process.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value // string

	mu     sync.RWMutex
	logger *slog.Logger
)

func init() {
	currentLevel.Store(int32(LevelWarn))
	currentFormat.Store("text")
	rebuild(os.Stderr, "text")
}

// Config controls process-wide logger setup. Zero value means "quiet text
// logging to stderr at WARN", matching an embedded library's default.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
}

// Init (re)configures the logger. Safe to call multiple times.
func Init(cfg Config) {
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	format := "text"
	if strings.EqualFold(cfg.Format, "json") {
		format = "json"
	}
	currentFormat.Store(format)
	rebuild(os.Stderr, format)
}

// SetLevel parses and applies a textual level; invalid values are ignored.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel.Store(int32(LevelDebug))
	case "INFO":
		currentLevel.Store(int32(LevelInfo))
	case "WARN":
		currentLevel.Store(int32(LevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LevelError))
	default:
		return
	}
	rebuild(os.Stderr, currentFormat.Load().(string))
}

func rebuild(w io.Writer, format string) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(Level(currentLevel.Load()).slog())

	opts := &slog.HandlerOptions{Level: levelVar}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	logger = slog.New(handler)
	mu.Unlock()
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, args ...any) { get().Debug(msg, args...) }
func Info(msg string, args ...any)  { get().Info(msg, args...) }
func Warn(msg string, args ...any)  { get().Warn(msg, args...) }
func Error(msg string, args ...any) { get().Error(msg, args...) }

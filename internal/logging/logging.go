// Package logging configures the process-wide slog logger: stylelog/tint
// colored output on a terminal, JSON everywhere else.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/vietddude/stylelog"
)

// Level is the global log level. It can be changed at runtime.
var Level = new(slog.LevelVar)

// Config holds logging configuration.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json; empty picks by terminal
}

// Setup initializes the global slog logger. debug forces the debug level.
func Setup(cfg Config, debug bool) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	Level.Set(level)

	if useJSON(cfg.Format, isTerminal(os.Stderr)) {
		slog.SetDefault(slog.New(JSONHandler(os.Stderr)))
	} else {
		stylelog.InitDefault(&tint.Options{
			Level:      Level,
			TimeFormat: time.RFC3339,
		})
	}
	if err != nil && cfg.Level != "" {
		slog.Warn("Unknown log level, using info", "level", cfg.Level)
	}
}

// JSONHandler returns the structured handler used off-terminal.
func JSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: Level})
}

func useJSON(format string, tty bool) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "text":
		return false
	default:
		return !tty
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// An empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	err := l.UnmarshalText([]byte(strings.ToUpper(s)))
	return l, err
}

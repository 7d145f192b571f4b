// Package logging holds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	EnvLevel = "TOPICSNAP_LOG_LEVEL"
	EnvJSON  = "TOPICSNAP_LOG_JSON"
)

type Options struct {
	Level string
	JSON  bool
	// Out defaults to stderr; stdout carries sink output.
	Out io.Writer
}

var def atomic.Pointer[slog.Logger]

func init() {
	def.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

func Configure(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, cfg)
	} else {
		h = slog.NewTextHandler(out, cfg)
	}
	def.Store(slog.New(h))
}

// ParseLevel maps debug|info|warn|error onto slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func L() *slog.Logger { return def.Load() }

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger { return L().With("component", name) }

func InitFromEnv() {
	json, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvJSON)))
	Configure(Options{Level: os.Getenv(EnvLevel), JSON: json})
}

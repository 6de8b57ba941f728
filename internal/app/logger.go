package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/keyxmakerx/portal/internal/config"
)

// NewLogger builds the process logger. Development uses the text handler for
// readability; everything else gets JSON for log aggregation. LOG_LEVEL
// overrides the level; an unknown value falls back to info.
func NewLogger(cfg *config.Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

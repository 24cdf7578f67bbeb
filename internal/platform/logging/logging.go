package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/animus-labs/diagflow/internal/platform/env"
)

type Config struct {
	Level  slog.Level
	Format string
}

func ConfigFromEnv() (Config, error) {
	level, err := env.Level("DIAGFLOW_LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Level:  level,
		Format: strings.ToLower(env.String("DIAGFLOW_LOG_FORMAT", "json")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("DIAGFLOW_LOG_FORMAT must be json or text, got %q", c.Format)
	}
}

// New builds a logger writing to w, or os.Stdout when w is nil.
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Component scopes a logger to one module.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With(slog.String("component", name))
}

func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package env

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func Bool(key string, def bool) (bool, error) {
	if v, ok := lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

func Int(key string, def int) (int, error) {
	if v, ok := lookup(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}

// Level parses a slog level name ("debug", "info", "warn", "error").
func Level(key string, def slog.Level) (slog.Level, error) {
	if v, ok := lookup(key); ok {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err != nil {
			return def, fmt.Errorf("parse %s: %w", key, err)
		}
		return lvl, nil
	}
	return def, nil
}

// BaseURL parses an absolute http(s) URL and strips any trailing slash.
func BaseURL(key string, def string) (string, error) {
	raw := def
	if v, ok := lookup(key); ok {
		raw = v
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("parse %s: scheme must be http or https, got %q", key, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse %s: host is required", key)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// lookup treats blank values as unset.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

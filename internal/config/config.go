// Package config loads client settings from the environment, after merging
// a .env file if one is present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultMaxUploadBytes   = 10 << 20
	DefaultTypingDebounce   = time.Second
	DefaultRemoteTypingTTL  = 5 * time.Second
	DefaultReconnectRetries = 5
	DefaultReconnectDelay   = 500 * time.Millisecond
	DefaultTypingRate       = 2
)

// Config is the resolved client configuration.
type Config struct {
	APIURL       string
	StreamURL    string
	SessionToken string

	MaxUploadBytes   int64
	TypingDebounce   time.Duration
	RemoteTypingTTL  time.Duration
	ReconnectRetries uint64
	ReconnectDelay   time.Duration
	TypingRate       int

	NATSURL  string
	LogLevel string
	Location *time.Location
}

// Load reads the configuration. Files are optional; a missing .env is not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		APIURL:       strings.TrimSpace(getenv("CARECHAT_API_URL")),
		StreamURL:    strings.TrimSpace(getenv("CARECHAT_STREAM_URL")),
		SessionToken: strings.TrimSpace(getenv("CARECHAT_SESSION_TOKEN")),
		NATSURL:      strings.TrimSpace(getenv("CARECHAT_NATS_URL")),
		LogLevel:     strings.TrimSpace(getenv("CARECHAT_LOG_LEVEL")),
		Location:     time.Local,
	}

	if cfg.APIURL == "" {
		return Config{}, fmt.Errorf("CARECHAT_API_URL environment variable is not set")
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = streamURLFor(cfg.APIURL)
	}

	var err error
	if cfg.MaxUploadBytes, err = bytesVar(getenv, "CARECHAT_MAX_UPLOAD_BYTES", DefaultMaxUploadBytes); err != nil {
		return Config{}, err
	}
	if cfg.TypingDebounce, err = durationVar(getenv, "CARECHAT_TYPING_DEBOUNCE", DefaultTypingDebounce); err != nil {
		return Config{}, err
	}
	if cfg.RemoteTypingTTL, err = durationVar(getenv, "CARECHAT_REMOTE_TYPING_TTL", DefaultRemoteTypingTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectDelay, err = durationVar(getenv, "CARECHAT_RECONNECT_BASE_DELAY", DefaultReconnectDelay); err != nil {
		return Config{}, err
	}

	retries, err := intVar(getenv, "CARECHAT_RECONNECT_RETRIES", DefaultReconnectRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectRetries = uint64(retries)

	if cfg.TypingRate, err = intVar(getenv, "CARECHAT_TYPING_RATE", DefaultTypingRate); err != nil {
		return Config{}, err
	}

	if tz := strings.TrimSpace(getenv("CARECHAT_TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CARECHAT_TIMEZONE %q: %w", tz, err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

// streamURLFor derives the websocket endpoint from the REST base URL.
func streamURLFor(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, v)
	}
	return d, nil
}

func intVar(getenv func(string) string, key string, def int) (int, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative integer", key, v)
	}
	return n, nil
}

// bytesVar accepts plain byte counts and human sizes such as "10MB" or "8MiB".
func bytesVar(getenv func(string) string, key string, def int64) (int64, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s %q: want a size", key, v)
	}
	return int64(n), nil
}

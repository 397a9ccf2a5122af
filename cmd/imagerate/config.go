package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/m-mizutani/goerr/v2"

	"github.com/anatolykoptev/go-imagerate"
)

const envPrefix = "IMAGERATE_"

// config contains process configuration.
type config struct {
	// BaseURL is the remote scoring service, e.g. "http://localhost:8000".
	BaseURL string `koanf:"base_url"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MaxUploadBytes rejects uploads at or over this size before any network call.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	ThumbnailDim int     `koanf:"thumbnail_dim"`
	PixelRatio   float64 `koanf:"pixel_ratio"`

	// HistoryBackend is "file" or "sqlite"; HistoryPath is a directory for
	// "file" and a database file for "sqlite".
	HistoryBackend  string `koanf:"history_backend"`
	HistoryPath     string `koanf:"history_path"`
	HistoryCapacity int    `koanf:"history_capacity"`

	Timeout   time.Duration `koanf:"timeout"`
	UserAgent string        `koanf:"user_agent"`

	// MetricsFile, when set, receives Prometheus text exposition after each command.
	MetricsFile string `koanf:"metrics_file"`
}

func defaultConfig() *config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &config{
		BaseURL:         "http://localhost:8000",
		LogLevel:        "info",
		MaxUploadBytes:  imagerate.DefaultMaxUploadBytes,
		ThumbnailDim:    imagerate.DefaultThumbnailDim,
		PixelRatio:      1,
		HistoryBackend:  "file",
		HistoryPath:     filepath.Join(dir, "imagerate"),
		HistoryCapacity: imagerate.DefaultHistoryCapacity,
		Timeout:         60 * time.Second,
	}
}

// loadConfig builds a config by layering defaults, an optional YAML file and
// env vars (low -> high precedence). path falls back to $IMAGERATE_CONFIG.
func loadConfig(path string) (*config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, goerr.Wrap(err, "failed to load config file", goerr.V("path", path))
		}
	}

	// IMAGERATE_BASE_URL -> base_url; underscores are kept to match the koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, goerr.Wrap(err, "failed to load env config")
	}

	cfg := *defaultConfig()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) validate() error {
	if c.BaseURL == "" {
		return goerr.New("base_url must not be empty")
	}
	switch c.HistoryBackend {
	case "file", "sqlite":
	default:
		return goerr.New("history_backend must be file or sqlite", goerr.V("history_backend", c.HistoryBackend))
	}
	if c.HistoryPath == "" {
		return goerr.New("history_path must not be empty")
	}
	if c.PixelRatio < 0 {
		return goerr.New("pixel_ratio must not be negative", goerr.V("pixel_ratio", c.PixelRatio))
	}
	return nil
}

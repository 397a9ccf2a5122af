package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/anatolykoptev/go-imagerate"
	"github.com/anatolykoptev/go-imagerate/metrics"
	"github.com/anatolykoptev/go-imagerate/sqlitestore"
)

type cliError struct {
	Code    int
	Message string
}

// globals are flags shared by every command.
type globals struct {
	configPath string
	baseURL    string
	logLevel   string
}

func run(ctx context.Context, argv []string) *cliError {
	return runWith(ctx, argv, os.Stdout)
}

func runWith(ctx context.Context, argv []string, stdout io.Writer) *cliError {
	var g globals

	cmd := &cli.Command{
		Name:   "imagerate",
		Usage:  "Aesthetic image rating client",
		Writer: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to YAML config file",
				Sources:     cli.EnvVars("IMAGERATE_CONFIG"),
				Destination: &g.configPath,
			},
			&cli.StringFlag{
				Name:        "base-url",
				Usage:       "Scoring service base URL (overrides config)",
				Destination: &g.baseURL,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level: debug, info, warn, error (overrides config)",
				Destination: &g.logLevel,
			},
		},
		Commands: []*cli.Command{
			rateCommand(&g),
			historyCommand(&g),
			exportScoreCommand(&g),
			saliencyCommand(&g),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &cliError{Code: 1, Message: err.Error()}
	}
	return nil
}

// app is the wired dependency set for one command invocation.
type app struct {
	cfg     *config
	rater   *imagerate.Rater
	history *imagerate.History

	registry *prometheus.Registry
	closers  []io.Closer
}

func newApp(ctx context.Context, g *globals) (*app, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.baseURL != "" {
		cfg.BaseURL = g.baseURL
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	slog.SetDefault(newLogger(cfg.LogLevel, os.Stderr))

	a := &app{cfg: cfg}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.history = imagerate.NewHistory(store, imagerate.WithCapacity(cfg.HistoryCapacity))

	gw, err := imagerate.NewGateway(imagerate.GatewayConfig{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	rcfg := imagerate.Config{
		Scorer:         gw,
		History:        a.history,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ThumbnailDim:   cfg.ThumbnailDim,
		PixelRatio:     cfg.PixelRatio,
	}
	if cfg.MetricsFile != "" {
		a.registry = prometheus.NewRegistry()
		metrics.NewManager(metrics.WithRegistry(a.registry)).Instrument(&rcfg)
	}

	a.rater, err = imagerate.NewRater(rcfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (imagerate.BlobStore, error) {
	switch a.cfg.HistoryBackend {
	case "sqlite":
		s, err := sqlitestore.Open(ctx, a.cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	default:
		return &imagerate.FileStore{Dir: a.cfg.HistoryPath}, nil
	}
}

// Close flushes metrics and releases stores.
func (a *app) Close() {
	if a.registry != nil {
		if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.registry); err != nil {
			slog.Warn("failed to write metrics file", "path", a.cfg.MetricsFile, "error", err)
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}
}

// readUpload loads path from disk. The declared content type is sniffed from
// the bytes unless contentType is given.
func readUpload(path, contentType string) (imagerate.Upload, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied path by design
	if err != nil {
		return imagerate.Upload{}, goerr.Wrap(err, "failed to read file", goerr.V("path", path))
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return imagerate.Upload{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// writeBlob saves an export next to the caller, using the blob's suggested name
// when out is empty.
func writeBlob(blob *imagerate.Blob, out string) (string, error) {
	if out == "" {
		out = blob.Filename
	}
	if err := os.WriteFile(out, blob.Data, 0o644); err != nil { //nolint:gosec // exported image, not a secret
		return "", goerr.Wrap(err, "failed to write file", goerr.V("path", out))
	}
	return out, nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/anatolykoptev/go-imagerate"
)

func rateCommand(g *globals) *cli.Command {
	var contentType string

	return &cli.Command{
		Name:      "rate",
		Usage:     "Score an image and record it in history",
		ArgsUsage: "<image-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "content-type",
				Usage:       "Declared content type (default: sniffed from the file)",
				Destination: &contentType,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return goerr.New("image file is required")
			}

			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := readUpload(c.Args().Get(0), contentType)
			if err != nil {
				return err
			}

			spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
				spinner.WithWriterFile(os.Stderr), spinner.WithSuffix(" Rating "+u.Name))
			spin.Start()
			res, err := a.rater.Submit(ctx, u)
			spin.Stop()

			switch {
			case errors.Is(err, imagerate.ErrInvalidType):
				return goerr.New("please select an image file", goerr.V("content_type", u.ContentType))
			case errors.Is(err, imagerate.ErrTooLarge):
				return goerr.New(fmt.Sprintf("please select an image smaller than %s", humanBytes(a.cfg.MaxUploadBytes)))
			case err != nil:
				return err
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Aesthetic Score: %s / 10.0 (%s)\n", imagerate.FormatScore(res.Score), imagerate.Grade(res.Score))
			for _, s := range res.Suggestions {
				fmt.Fprintf(w, "  - %s\n", s)
			}

			switch {
			case res.HistoryErr != nil:
				fmt.Fprintln(w, "Not recorded in history.")
			case res.Duplicate:
				fmt.Fprintln(w, "Already in history.")
			case res.Inserted:
				fmt.Fprintf(w, "Recorded (%d in history).\n", len(res.History))
			}

			if res.Thumbnail != nil && res.Thumbnail.Fingerprint != "" {
				similar, err := a.history.Similar(ctx, res.Thumbnail.Fingerprint, imagerate.SimilarThreshold)
				if err == nil && len(similar) > 1 {
					fmt.Fprintf(w, "Looks similar to %d earlier ratings.\n", len(similar)-1)
				}
			}
			return nil
		},
	}
}

func historyCommand(g *globals) *cli.Command {
	var (
		exportDir  string
		jsonOutput bool
	)

	return &cli.Command{
		Name:  "history",
		Usage: "List recent ratings, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "export-dir",
				Usage:       "Write each stored thumbnail to this directory",
				Destination: &exportDir,
			},
			&cli.BoolFlag{
				Name:        "json",
				Aliases:     []string{"j"},
				Usage:       "Output as JSON",
				Destination: &jsonOutput,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.rater.History(ctx)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}

			if len(recs) == 0 {
				fmt.Fprintln(w, "No ratings yet. Rate your first image!")
				return nil
			}
			for i, r := range recs {
				fmt.Fprintf(w, "%2d  %s  %4s  %-4s  %s\n",
					i+1, r.CreatedAt.Format("2006-01-02 15:04"), imagerate.FormatScore(r.Score),
					imagerate.ScoreBand(r.Score), r.ID)
			}
			sum := imagerate.Summarize(recs)
			fmt.Fprintf(w, "\n%d ratings, average %s, median %s, best %s\n", sum.Count,
				imagerate.FormatScore(sum.Mean), imagerate.FormatScore(sum.Median), imagerate.FormatScore(sum.Best))

			if exportDir != "" {
				return exportThumbnails(recs, exportDir)
			}
			return nil
		},
	}
}

func exportThumbnails(recs []imagerate.RatingRecord, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create export directory", goerr.V("dir", dir))
	}
	for i, r := range recs {
		data, _, err := imagerate.DecodeDataURL(r.Thumbnail)
		if err != nil {
			return goerr.Wrap(err, "stored thumbnail is not decodable", goerr.V("id", r.ID))
		}
		p := filepath.Join(dir, thumbnailName(i, r.ID))
		if err := os.WriteFile(p, data, 0o644); err != nil { //nolint:gosec // thumbnail, not a secret
			return goerr.Wrap(err, "failed to write thumbnail", goerr.V("path", p))
		}
	}
	return nil
}

// thumbnailName names the i-th exported thumbnail after its record ID. The
// slot is shared with other clients, so IDs that are not a plain file name
// fall back to the position.
func thumbnailName(i int, id string) string {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		slog.Warn("stored record id is not a safe file name, using position", "id", id)
		return fmt.Sprintf("%02d.jpg", i+1)
	}
	return id + ".jpg"
}

func exportScoreCommand(g *globals) *cli.Command {
	var (
		score float64
		out   string
	)

	return &cli.Command{
		Name:      "export-score",
		Usage:     "Download the image with its score rendered on it",
		ArgsUsage: "<image-file>",
		Flags: []cli.Flag{
			&cli.FloatFlag{
				Name:        "score",
				Aliases:     []string{"s"},
				Usage:       "Score to render (from a previous rate)",
				Required:    true,
				Destination: &score,
			},
			outputFlag(&out, imagerate.ScoredImageFilename),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return goerr.New("image file is required")
			}
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := readUpload(c.Args().Get(0), "")
			if err != nil {
				return err
			}
			blob, err := a.rater.ExportScoredImage(ctx, u, score)
			if err != nil {
				return goerr.Wrap(err, "failed to download scored image")
			}
			path, err := writeBlob(blob, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, path)
			return nil
		},
	}
}

func saliencyCommand(g *globals) *cli.Command {
	var out string

	return &cli.Command{
		Name:      "saliency",
		Usage:     "Download the attention map of an image",
		ArgsUsage: "<image-file>",
		Flags:     []cli.Flag{outputFlag(&out, imagerate.SaliencyMapFilename)},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return goerr.New("image file is required")
			}
			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := readUpload(c.Args().Get(0), "")
			if err != nil {
				return err
			}
			blob, err := a.rater.ExportSaliencyMap(ctx, u)
			if err != nil {
				return goerr.Wrap(err, "failed to download saliency map")
			}
			path, err := writeBlob(blob, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, path)
			return nil
		},
	}
}

func outputFlag(dst *string, def string) cli.Flag {
	return &cli.StringFlag{
		Name:        "output",
		Aliases:     []string{"o"},
		Usage:       fmt.Sprintf("Output file (default: %s)", def),
		Destination: dst,
	}
}

func humanBytes(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}

// Command evergarden drives a crawl into a content-addressed archive and
// exports a finished archive into a WACZ package, the two CLI entry points
// original_source splits across `evergarden archive` and `evergarden export`
// (cli/src/main.rs, cli/src/archiver/mod.rs). Built on urfave/cli/v2, the one
// CLI library anywhere in the retrieval pack's go.mod files.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/kore-signet/evergarden/internal/pkg/export/export"
	"github.com/kore-signet/evergarden/internal/pkg/export/publish"
	"github.com/kore-signet/evergarden/internal/pkg/log"
	"github.com/kore-signet/evergarden/internal/pkg/pipeline"
)

func main() {
	app := &cli.App{
		Name:  "evergarden",
		Usage: "a configurable web-archiving crawler",
		Commands: []*cli.Command{
			archiveCommand(),
			exportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "crawl seed URLs into a content-addressed archive",
		ArgsUsage: "<seed-url...>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "crawl configuration"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true, Usage: "output folder"},
			&cli.BoolFlag{Name: "no-clobber", Usage: "doesn't overwrite existing records in output, except for seed urls"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "logging level"},
			&cli.StringFlag{Name: "ops-addr", Usage: "address to serve /healthz and /metrics on (disabled if empty)"},
			&cli.BoolFlag{Name: "live", Usage: "print a live stats table to stdout while crawling"},
			&cli.StringFlag{Name: "job", Value: "archive", Usage: "job name reported by the ops API and live stats"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("at least one seed url is required", 1)
			}

			log.Configure(log.Config{
				StdoutEnabled: true,
				StdoutLevel:   parseLevel(c.String("log-level")),
				FileLevel:     logrus.DebugLevel,
			})

			return pipeline.Run(context.Background(), pipeline.Options{
				ConfigPath: c.String("config"),
				OutputDir:  c.String("output"),
				NoClobber:  c.Bool("no-clobber"),
				SeedURLs:   c.Args().Slice(),
				Job:        c.String("job"),
				OpsAddr:    c.String("ops-addr"),
				Live:       c.Bool("live"),
			})
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "export a content-addressed archive into a WACZ package",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Required: true, Usage: "archive directory to export"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true, Usage: "destination .wacz path"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "logging level"},
			&cli.Int64Flag{Name: "warc-threshold", Value: export.DefaultWarcThreshold, Usage: "rotate to a new WARC file past this many bytes"},
			&cli.StringFlag{Name: "s3-bucket", Usage: "upload the finished wacz to this s3-compatible bucket once exported"},
			&cli.StringFlag{Name: "s3-key", Usage: "s3 object key (defaults to the output file's base name)"},
			&cli.StringFlag{Name: "s3-region", Value: "us-east-1", Usage: "s3 region"},
			&cli.StringFlag{Name: "s3-endpoint", Usage: "non-AWS s3-compatible endpoint"},
		},
		Action: func(c *cli.Context) error {
			log.Configure(log.Config{
				StdoutEnabled: true,
				StdoutLevel:   parseLevel(c.String("log-level")),
				FileLevel:     logrus.DebugLevel,
			})

			if err := export.Run(export.Options{
				ArchiveDir:    c.String("input"),
				OutputPath:    c.String("output"),
				WarcThreshold: c.Int64("warc-threshold"),
			}); err != nil {
				return err
			}

			bucket := c.String("s3-bucket")
			if bucket == "" {
				return nil
			}

			key := c.String("s3-key")
			if key == "" {
				key = filepath.Base(c.String("output"))
			}
			return publish.Upload(context.Background(), publish.Config{
				Bucket:   bucket,
				Key:      key,
				Region:   c.String("s3-region"),
				Endpoint: c.String("s3-endpoint"),
			}, c.String("output"))
		},
	}
}

func parseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

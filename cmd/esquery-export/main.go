package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/leonunix/esquery/internal/command"
	"github.com/leonunix/esquery/internal/config"
	"github.com/leonunix/esquery/internal/export"
	"github.com/leonunix/esquery/internal/transport"
	"github.com/leonunix/esquery/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		slog.Error("export failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) (err error) {
	fs := flag.NewFlagSet("esquery-export", flag.ContinueOnError)
	configPath := fs.String("config", "esquery.yaml", "path to configuration file")
	index := fs.String("index", "", "comma-separated indices to export (overrides export.index)")
	fields := fs.String("fields", "", "comma-separated fields to include (overrides export.fields)")
	format := fs.String("format", export.FormatJSON, "output format: json, raw or csv")
	outfile := fs.String("o", "", "output file, - for stdout (overrides export.output)")
	progress := fs.Bool("progress", false, "show a progress bar on stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	util.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if *index != "" {
		cfg.Export.Index = strings.Split(*index, ",")
	}
	if *fields != "" {
		cfg.Export.Fields = strings.Split(*fields, ",")
	}
	if *outfile != "" {
		cfg.Export.Output = *outfile
	}
	if len(cfg.Export.Index) == 0 {
		return errors.New("no index to export, set export.index or -index")
	}

	where, err := cfg.Export.Condition()
	if err != nil {
		return fmt.Errorf("invalid export condition: %w", err)
	}

	opts, err := cfg.Elasticsearch.TransportOptions()
	if err != nil {
		return fmt.Errorf("building connection options: %w", err)
	}
	conn, err := transport.New(opts)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	defer conn.Close()

	out := stdout
	if cfg.Export.Output != "-" {
		f, createErr := os.Create(cfg.Export.Output)
		if createErr != nil {
			return fmt.Errorf("creating output file: %w", createErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("closing output file: %w", cerr)
			}
		}()
		out = f
	}

	slog.Info("export starting",
		"index", cfg.Export.Index,
		"fields", cfg.Export.Fields,
		"format", *format,
		"output", cfg.Export.Output,
	)

	cmd := command.New(conn, cfg.Elasticsearch.EngineVersion)
	n, err := export.Run(ctx, cmd, export.Options{
		Index:     cfg.Export.Index,
		Where:     where,
		Fields:    cfg.Export.Fields,
		Format:    *format,
		BatchSize: cfg.Scroll.BatchSize,
		Window:    cfg.Scroll.Window,
		Progress:  *progress || cfg.Export.Progress,
	}, out)
	if err != nil {
		return fmt.Errorf("after %d documents: %w", n, err)
	}
	slog.Info("export completed", "documents", n)
	return nil
}

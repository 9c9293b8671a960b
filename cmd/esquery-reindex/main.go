package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/leonunix/esquery/internal/command"
	"github.com/leonunix/esquery/internal/config"
	"github.com/leonunix/esquery/internal/reindex"
	"github.com/leonunix/esquery/internal/transport"
	"github.com/leonunix/esquery/internal/util"

	"github.com/robfig/cron/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		slog.Error("esquery-reindex failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("esquery-reindex", flag.ContinueOnError)
	configPath := fs.String("config", "esquery.yaml", "path to configuration file")
	once := fs.Bool("once", false, "run the jobs once and exit (ignore schedule)")
	jobFilter := fs.String("jobs", "", "comma-separated job name patterns to run (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	util.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	var patterns []string
	if *jobFilter != "" {
		patterns = strings.Split(*jobFilter, ",")
	}

	slog.Info("esquery-reindex starting",
		"nodes", len(cfg.Elasticsearch.Nodes),
		"engine_version", cfg.Elasticsearch.EngineVersion,
		"jobs", len(cfg.Reindex.Jobs),
		"filter", patterns,
		"scroll_window", cfg.Scroll.Window,
	)

	jobs, err := reindex.JobsFromConfig(cfg.Reindex.Jobs)
	if err != nil {
		return fmt.Errorf("invalid reindex jobs: %w", err)
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

	cmd := command.New(conn, cfg.Elasticsearch.EngineVersion)
	reindexer := reindex.New(cmd,
		reindex.WithScrollWindow(cfg.Scroll.Window),
		reindex.WithLock(reindex.NewDocumentLock(cmd, cfg.Reindex.LockIndex)),
		reindex.WithLockTTL(cfg.Reindex.LockTTL),
		reindex.WithMetrics(reindex.NewDocumentMetrics(cmd, cfg.Reindex.MetricsIndex)),
	)

	if *once {
		if err := reindexer.RunAll(ctx, jobs, patterns); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		slog.Info("reindex completed, exiting")
		return nil
	}

	// The connection serves one caller at a time, so overlapping runs are
	// skipped.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = c.AddFunc(cfg.Reindex.Schedule, func() {
		slog.Info("scheduled reindex starting")
		if err := reindexer.RunAll(ctx, jobs, patterns); err != nil {
			slog.Error("scheduled reindex failed", "error", err)
			return
		}
		slog.Info("scheduled reindex completed")
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", cfg.Reindex.Schedule, err)
	}

	c.Start()
	slog.Info("reindex scheduler started", "schedule", cfg.Reindex.Schedule)

	// Wait for shutdown signal.
	<-ctx.Done()

	slog.Info("shutting down...")
	done := c.Stop()
	<-done.Done()
	slog.Info("esquery-reindex stopped")
	return nil
}

// Command indexer-async streams an NDJSON file to the search service with a
// bounded number of writes in flight, logging the ingestion rate as it goes.
// Rejected documents are logged and counted; the run carries on.
//
// Usage:
//
//	go run ./cmd/indexer-async [-config indexer.yaml] [-source data/testdocs.json]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/app"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/driver"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/source"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (defaults only when empty)")
	sourcePath := flag.String("source", "", "NDJSON file to ingest, overrides ingestion.sourcePath")
	resetDedupe := flag.Bool("reset-dedupe", false, "forget previously indexed documents before the run")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitCode(err)
	}
	if *sourcePath != "" {
		cfg.Ingestion.SourcePath = *sourcePath
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runID := "pipelined-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	ctx = logger.WithRunID(ctx, runID)

	slog.Info("starting async indexer",
		"run_id", runID,
		"source", cfg.Ingestion.SourcePath,
		"search", cfg.Search.Address(),
		"index", cfg.Ingestion.Index,
		"category", cfg.Ingestion.Category,
		"fan_out", cfg.Ingestion.FanOut,
	)

	a, err := app.Build(ctx, cfg, runID)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return apperrors.ExitCode(err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()
	a.CheckHealth(ctx)
	a.ServeMetrics()

	if *resetDedupe {
		if err := a.ResetDedupe(ctx); err != nil {
			slog.Error("failed to reset dedupe markers", "error", err)
			return apperrors.ExitCode(err)
		}
	}

	d := driver.NewPipelined(source.New(cfg.Ingestion.SourcePath), a.Async(), a.DriverConfig())
	report, err := d.Run(ctx)
	if err != nil {
		slog.Error("ingestion failed", "report", report, "error", err)
		return apperrors.ExitCode(err)
	}
	slog.Info("async indexer finished", "report", report)
	return 0
}

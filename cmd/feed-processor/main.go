// Package main provides the one-shot claims feed processor CLI. It runs
// batch files through the same pipeline as the feed API, then optionally
// prints the data quality and processing summary reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rxfeed/claimflow/internal/config"
	"github.com/rxfeed/claimflow/internal/infrastructure/postgres"
	"github.com/rxfeed/claimflow/internal/observability/tracing"
	"github.com/rxfeed/claimflow/internal/pipeline"
	"github.com/rxfeed/claimflow/internal/report"
	"github.com/rxfeed/claimflow/internal/samples"
)

const serviceName = "feed-processor"

var (
	configPath = flag.String("config", "", "directory containing config.yaml")
	samplesDir = flag.String("samples", "", "write sample feed files into this directory and process the JSON ones")
	withReport = flag.Bool("report", false, "print data quality and processing summary reports")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [file ...]\n\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(flag.CommandLine.Output(), "Processes claims feed files (JSON, CSV, or XLSX) through validation,")
	fmt.Fprintln(flag.CommandLine.Output(), "staging, and adjudication.")
	fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "feed-processor:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath, serviceName, logger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger = newLogger(cfg.LogLevel)
	defer logger.Sync()

	files := flag.Args()
	if *samplesDir != "" {
		written, err := samples.WriteSampleFiles(*samplesDir)
		if err != nil {
			return fmt.Errorf("write sample files: %w", err)
		}
		fmt.Println("Sample files written:")
		for _, path := range written {
			fmt.Println(" ", path)
			if filepath.Ext(path) == ".json" {
				files = append(files, path)
			}
		}
	}
	if len(files) == 0 {
		flag.Usage()
		return errors.New("no feed files to process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	store, err := postgres.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()
	logger.Info("connected to database")

	proc := pipeline.NewProcessor(store, store, cfg.Promotion, nil, logger)

	var failed int
	for _, file := range files {
		fmt.Printf("\nProcessing %s...\n", file)

		counters, err := proc.ProcessFile(ctx, file)
		if errors.Is(err, pipeline.ErrBatchAlreadyProcessed) {
			fmt.Println("  skipped: batch already processed")
			continue
		}
		if err != nil {
			failed++
			fmt.Printf("  failed: %v\n", err)
			continue
		}
		fmt.Printf("  valid: %d  invalid: %d  promoted: %d\n",
			counters.Valid, counters.Invalid, counters.Processed)
	}

	if *withReport {
		reports := report.NewService(store, logger)
		if err := reports.WriteQuality(ctx, os.Stdout); err != nil {
			return fmt.Errorf("quality report: %w", err)
		}
		if err := reports.WriteSummary(ctx, os.Stdout); err != nil {
			return fmt.Errorf("summary report: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	fmt.Println("\nFeed processing completed")
	return nil
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// Package main provides the claims feed API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rxfeed/claimflow/internal/api/handlers"
	"github.com/rxfeed/claimflow/internal/api/middleware"
	"github.com/rxfeed/claimflow/internal/config"
	"github.com/rxfeed/claimflow/internal/infrastructure/postgres"
	"github.com/rxfeed/claimflow/internal/intake"
	"github.com/rxfeed/claimflow/internal/observability/metrics"
	"github.com/rxfeed/claimflow/internal/observability/tracing"
	"github.com/rxfeed/claimflow/internal/pipeline"
	"github.com/rxfeed/claimflow/internal/report"
	"github.com/rxfeed/claimflow/pkg/circuitbreaker"
)

const serviceName = "feed-api"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load("", serviceName, logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	// Initialize tracing
	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	m := metrics.New()

	// Connect to database
	store, err := postgres.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()
	logger.Info("connected to database")

	// Adjudication circuit breaker, reporting its state as a gauge
	breakerCfg := postgres.AdjudicationBreakerConfig()
	breakerCfg.StateHook = func(name string, to circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(circuitbreaker.StateValue(to))
	}
	breaker, err := circuitbreaker.New(breakerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create circuit breaker", zap.Error(err))
	}
	store.UseAdjudicationBreaker(breaker)

	// Pipeline and intake queue
	proc := pipeline.NewProcessor(store, store, cfg.Promotion, m, logger)

	queue, err := intake.New(cfg.Intake, func(ctx context.Context, sub *intake.Submission) error {
		_, err := proc.ProcessSubmission(ctx, sub.ID, sub.FileName, sub.Payload)
		return err
	}, m, logger)
	if err != nil {
		logger.Fatal("failed to create intake queue", zap.Error(err))
	}
	queue.Start()

	reports := report.NewService(store, logger)

	// Initialize handlers
	batchHandler := handlers.NewBatchHandler(store, queue, logger)
	reportHandler := handlers.NewReportHandler(reports, logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "X-File-Name"},
		MaxAge:         300,
	}).Handler)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	// Health check (no auth)
	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if !queue.IsHealthy() {
			http.Error(w, "intake queue backed up", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	// API routes (with auth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.HTTP.APIKeys))
		r.Mount("/batches", batchHandler.Routes())
		r.Mount("/reports", reportHandler.Routes())
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting feed API", zap.String("port", cfg.HTTP.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	// The server has stopped accepting submissions; let the in-flight
	// batch finish before exiting.
	queue.Stop()
	logger.Info("server stopped")
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

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"feed-api","version":"1.0.0"}`)
}

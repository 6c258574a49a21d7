// Package main provides the outbox relay service entry point.
// Implements the Transactional Outbox pattern relay.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rxfeed/claimflow/internal/config"
	"github.com/rxfeed/claimflow/internal/infrastructure/kafka"
	"github.com/rxfeed/claimflow/internal/infrastructure/postgres"
	"github.com/rxfeed/claimflow/internal/observability/metrics"
	"github.com/rxfeed/claimflow/internal/observability/tracing"
)

const serviceName = "outbox-relay"

const (
	housekeepingInterval = time.Minute
	processedRetention   = 24 * time.Hour
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load("", serviceName, logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

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
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()
	logger.Info("connected to database")

	// Create Kafka producer
	producer, err := kafka.NewProducer(cfg.Kafka, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers))

	// Make sure the topics exist before relaying. Failure is survivable
	// when the broker auto-creates topics.
	if admin, err := kafka.NewAdmin(cfg.Kafka.Brokers, logger); err != nil {
		logger.Warn("admin client creation failed", zap.Error(err))
	} else {
		if err := admin.EnsureTopics(ctx); err != nil {
			logger.Warn("topic creation failed", zap.Error(err))
		}
		admin.Close()
	}

	// Create outbox relay
	outbox := postgres.NewOutbox(store.Pool(), &publisherAdapter{producer: producer, metrics: m}, cfg.Outbox, logger)
	outbox.Start()
	logger.Info("outbox relay started")

	// Housekeeping: dead letter sweep, cleanup, pending gauge
	hkCtx, hkCancel := context.WithCancel(ctx)
	hkDone := make(chan struct{})
	go housekeeping(hkCtx, hkDone, outbox, m, logger)

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := producer.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"outbox-relay","version":"1.0.0","messages_sent":%d,"publish_errors":%d}`,
			stats.MessagesSent, stats.ErrorCount)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := kafka.HealthCheck(r.Context(), cfg.Kafka.Brokers); err != nil {
			http.Error(w, "kafka unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	metricsServer := &http.Server{Addr: ":" + cfg.Relay.MetricsPort, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	hkCancel()
	<-hkDone
	outbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}

// housekeeping periodically sweeps exhausted entries to the dead letter
// topic, prunes old processed rows, and refreshes the pending gauge.
func housekeeping(ctx context.Context, done chan struct{}, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger) {
	defer close(done)

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if moved, err := outbox.MoveToDeadLetter(ctx); err != nil {
			logger.Error("dead letter sweep failed", zap.Error(err))
		} else if moved > 0 {
			logger.Warn("entries moved to dead letter", zap.Int64("count", moved))
		}

		if removed, err := outbox.CleanupProcessed(ctx, processedRetention); err != nil {
			logger.Error("outbox cleanup failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("processed entries cleaned up", zap.Int64("count", removed))
		}

		stats, err := outbox.GetStats(ctx)
		if err != nil {
			logger.Error("outbox stats failed", zap.Error(err))
			continue
		}
		m.OutboxPending.Set(float64(stats.Pending))
	}
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

// publisherAdapter counts relayed messages on top of the Kafka producer
type publisherAdapter struct {
	producer *kafka.Producer
	metrics  *metrics.Metrics
}

func (a *publisherAdapter) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := a.producer.Publish(ctx, topic, key, value); err != nil {
		return err
	}
	a.metrics.KafkaMessagesProduced.Inc()
	return nil
}

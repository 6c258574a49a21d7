// Package intake provides the bounded submission queue behind the feed API.
// A single worker drains the queue so batch files are processed strictly one
// at a time; failures land on the batch ledger and are not retried here.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/observability/metrics"
)

// ErrQueueFull indicates the queue is at capacity and the submission was
// rejected.
var ErrQueueFull = errors.New("intake queue is full")

// ErrStopped indicates the queue no longer accepts submissions.
var ErrStopped = errors.New("intake queue is stopped")

// Submission is one batch file handed to the processing worker.
type Submission struct {
	ID          string
	FileName    string
	Payload     []byte
	SubmittedAt time.Time
}

// ProcessFunc handles one submission end to end.
type ProcessFunc func(ctx context.Context, sub *Submission) error

// Config holds intake queue configuration
type Config struct {
	// QueueSize is the maximum number of pending submissions
	QueueSize int
	// GracefulShutdownTimeout bounds the wait for the in-flight batch on Stop
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:               64,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Queue serializes batch submissions through a single worker.
type Queue struct {
	config  Config
	process ProcessFunc
	logger  *zap.Logger
	metrics *metrics.Metrics

	subs chan *Submission
	wg   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc

	// Counters
	submitted int64
	completed int64
	failed    int64
	abandoned int64
	depth     int64
}

// New creates an intake queue. m may be nil when metrics are not collected.
func New(cfg Config, fn ProcessFunc, m *metrics.Metrics, logger *zap.Logger) (*Queue, error) {
	if fn == nil {
		return nil, fmt.Errorf("process function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = DefaultConfig().GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		config:  cfg,
		process: fn,
		logger:  logger,
		metrics: m,
		subs:    make(chan *Submission, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the processing worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	q.logger.Info("intake queue started",
		zap.Int("queue_size", q.config.QueueSize))
}

// Enqueue adds a submission to the queue without blocking. The read lock
// keeps the send ordered before Stop's channel close.
func (q *Queue) Enqueue(sub *Submission) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return ErrStopped
	}

	select {
	case q.subs <- sub:
		atomic.AddInt64(&q.submitted, 1)
		q.setDepthGauge(atomic.AddInt64(&q.depth, 1))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects further submissions and waits for the in-flight batch.
// Submissions still queued at shutdown are abandoned; they never reached the
// ledger, so resubmitting them later is safe.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	q.mu.Unlock()

	q.logger.Info("stopping intake queue")

	q.cancel()
	close(q.subs)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("intake queue stopped")
	case <-time.After(q.config.GracefulShutdownTimeout):
		q.logger.Warn("intake queue shutdown timed out")
	}
	return nil
}

// worker drains the queue one submission at a time.
func (q *Queue) worker() {
	defer q.wg.Done()

	for sub := range q.subs {
		q.setDepthGauge(atomic.AddInt64(&q.depth, -1))

		select {
		case <-q.ctx.Done():
			atomic.AddInt64(&q.abandoned, 1)
			q.logger.Warn("submission abandoned during shutdown",
				zap.String("submission_id", sub.ID),
				zap.String("file", sub.FileName))
			continue
		default:
		}

		q.runSubmission(sub)
	}
}

// runSubmission processes one file. The context is independent of Stop so an
// in-flight batch commits or rolls back on its own terms.
func (q *Queue) runSubmission(sub *Submission) {
	start := time.Now()
	err := q.process(context.Background(), sub)
	if err != nil {
		atomic.AddInt64(&q.failed, 1)
		q.logger.Error("submission processing failed",
			zap.String("submission_id", sub.ID),
			zap.String("file", sub.FileName),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}

	atomic.AddInt64(&q.completed, 1)
	q.logger.Info("submission processed",
		zap.String("submission_id", sub.ID),
		zap.String("file", sub.FileName),
		zap.Duration("elapsed", time.Since(start)))
}

func (q *Queue) setDepthGauge(depth int64) {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(depth))
	}
}

// Stats holds intake queue statistics
type Stats struct {
	Submitted     int64
	Completed     int64
	Failed        int64
	Abandoned     int64
	QueueDepth    int64
	QueueCapacity int
}

// Stats returns current queue statistics
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted:     atomic.LoadInt64(&q.submitted),
		Completed:     atomic.LoadInt64(&q.completed),
		Failed:        atomic.LoadInt64(&q.failed),
		Abandoned:     atomic.LoadInt64(&q.abandoned),
		QueueDepth:    atomic.LoadInt64(&q.depth),
		QueueCapacity: q.config.QueueSize,
	}
}

// IsHealthy returns true if the queue is not backing up.
func (q *Queue) IsHealthy() bool {
	stats := q.Stats()
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/claim"
	"github.com/rxfeed/claimflow/internal/observability/metrics"
	"github.com/rxfeed/claimflow/internal/refdata"
	"github.com/rxfeed/claimflow/internal/validation"
)

// ErrBatchAlreadyProcessed is returned when a file's content hash is already
// recorded as completed in the batch ledger.
var ErrBatchAlreadyProcessed = errors.New("batch already processed")

// ErrBatchNotFound is returned by ledger lookups for an unknown batch ID.
var ErrBatchNotFound = errors.New("batch not found")

// BatchStatus tags a ledger row with the batch's processing outcome.
type BatchStatus string

const (
	BatchStarted   BatchStatus = "started"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Counters aggregates one file's record dispositions. Every record read
// contributes exactly one unit to Valid or Invalid; Processed counts the
// records forwarded to adjudication.
type Counters struct {
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Processed int `json:"processed"`
}

// Total returns the number of records read.
func (c Counters) Total() int { return c.Valid + c.Invalid }

// LedgerEntry is the durable record of one file processing attempt, keyed by
// content hash so a re-submitted file is recognized. Ledger rows live outside
// the batch unit of work: a failed attempt keeps its row after rollback.
type LedgerEntry struct {
	BatchID    string
	FileName   string
	FileHash   string
	Status     BatchStatus
	Counters   Counters
	Failure    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Store is the persistence surface the pipeline drives.
type Store interface {
	// BatchCompleted reports whether a file with this content hash has
	// already committed successfully.
	BatchCompleted(ctx context.Context, fileHash string) (bool, error)

	// StartLedger records the processing attempt before the batch opens.
	StartLedger(ctx context.Context, entry *LedgerEntry) error

	// FinishLedger finalizes the attempt with its outcome and counters.
	FinishLedger(ctx context.Context, batchID string, status BatchStatus, counters Counters, failure string) error

	// BeginBatch opens the per-file unit of work.
	BeginBatch(ctx context.Context) (BatchTx, error)
}

// BatchTx is one file's unit of work. Implementations must isolate each
// StageRecord, Adjudicate, and AppendEvent call so a failure in one record
// leaves the transaction usable for the next record; the postgres store does
// this with savepoints. Rollback after Commit must be a no-op.
type BatchTx interface {
	StageRecord(ctx context.Context, entry *claim.StagingEntry) error
	Adjudicate(ctx context.Context, req *claim.AdjudicationRequest) (*claim.AdjudicationResult, error)
	AppendEvent(ctx context.Context, event *claim.Event) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Processor drives whole batch files through validation, staging, and
// promotion. One file is processed start-to-finish per call; records are
// strictly sequential.
type Processor struct {
	store    Store
	engine   *validation.Engine
	promoter *Promoter
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewProcessor wires the pipeline against a store and reference lookup.
// m may be nil when metrics are not collected.
func NewProcessor(store Store, lookup refdata.Lookup, policy PromotionPolicy, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    store,
		engine:   validation.NewEngine(lookup, logger),
		promoter: NewPromoter(lookup, policy, logger),
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("claimflow/pipeline"),
	}
}

// ProcessFile loads a batch file from disk and processes it.
func (p *Processor) ProcessFile(ctx context.Context, path string) (Counters, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Counters{}, fmt.Errorf("read batch file: %w", err)
	}
	return p.ProcessPayload(ctx, filepath.Base(path), payload)
}

// ProcessPayload runs one batch through the pipeline under a fresh batch ID.
func (p *Processor) ProcessPayload(ctx context.Context, fileName string, payload []byte) (Counters, error) {
	return p.ProcessSubmission(ctx, uuid.New().String(), fileName, payload)
}

// ProcessSubmission runs one batch through the pipeline: ledger check,
// decode, a single transaction covering every staging entry and promotion,
// then ledger finalization. The caller chooses the batch ID so an API
// submission can be tracked under the ID it was accepted with; the returned
// counters are also persisted on the ledger row.
func (p *Processor) ProcessSubmission(ctx context.Context, batchID, fileName string, payload []byte) (Counters, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process_file",
		trace.WithAttributes(attribute.String("batch.file", fileName)))
	defer span.End()

	start := time.Now()
	sum := sha256.Sum256(payload)
	fileHash := hex.EncodeToString(sum[:])

	done, err := p.store.BatchCompleted(ctx, fileHash)
	if err != nil {
		return Counters{}, fmt.Errorf("ledger lookup: %w", err)
	}
	if done {
		p.logger.Info("batch already processed, skipping",
			zap.String("file", fileName),
			zap.String("file_hash", fileHash))
		p.countBatch("skipped")
		return Counters{}, fmt.Errorf("%w: %s", ErrBatchAlreadyProcessed, fileName)
	}

	records, err := DecodeBatch(fileName, payload)
	if err != nil {
		span.RecordError(err)
		return Counters{}, err
	}

	span.SetAttributes(attribute.String("batch.id", batchID))

	if err := p.store.StartLedger(ctx, &LedgerEntry{
		BatchID:   batchID,
		FileName:  fileName,
		FileHash:  fileHash,
		Status:    BatchStarted,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return Counters{}, fmt.Errorf("ledger start: %w", err)
	}

	p.logger.Info("processing batch file",
		zap.String("file", fileName),
		zap.String("batch_id", batchID),
		zap.Int("records", len(records)))

	counters, err := p.runBatch(ctx, batchID, fileName, fileHash, records)

	status := BatchCompleted
	failure := ""
	if err != nil {
		status = BatchFailed
		failure = err.Error()
		span.RecordError(err)
	}
	if lerr := p.store.FinishLedger(ctx, batchID, status, counters, failure); lerr != nil {
		p.logger.Error("ledger finish failed",
			zap.String("batch_id", batchID),
			zap.Error(lerr))
		if err == nil {
			err = fmt.Errorf("ledger finish: %w", lerr)
		}
	}

	span.SetAttributes(
		attribute.Int("batch.valid", counters.Valid),
		attribute.Int("batch.invalid", counters.Invalid),
		attribute.Int("batch.processed", counters.Processed),
	)
	p.countBatch(string(status))
	if p.metrics != nil {
		p.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}

	return counters, err
}

// runBatch holds the file's transaction open for the whole record sequence.
// The deferred rollback is a no-op once the commit has gone through.
func (p *Processor) runBatch(ctx context.Context, batchID, fileName, fileHash string, records []claim.Record) (Counters, error) {
	var counters Counters

	tx, err := p.store.BeginBatch(ctx)
	if err != nil {
		return counters, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range records {
		p.processRecord(ctx, tx, batchID, fileName, i+1, &records[i], &counters)
	}

	event, err := claim.NewEvent(batchID, claim.EventBatchCompleted, claim.BatchCompletedData{
		BatchID:     batchID,
		FileName:    fileName,
		FileHash:    fileHash,
		Valid:       counters.Valid,
		Invalid:     counters.Invalid,
		Processed:   counters.Processed,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return counters, fmt.Errorf("build batch event: %w", err)
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return counters, fmt.Errorf("append batch event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return counters, fmt.Errorf("commit batch: %w", err)
	}

	p.logger.Info("file processing complete",
		zap.String("file", fileName),
		zap.Int("valid", counters.Valid),
		zap.Int("invalid", counters.Invalid),
		zap.Int("processed", counters.Processed))
	return counters, nil
}

// processRecord is the per-record boundary: any failure inside it demotes
// the record to the invalid count instead of aborting the batch.
func (p *Processor) processRecord(ctx context.Context, tx BatchTx, batchID, fileName string, position int, rec *claim.Record, counters *Counters) {
	if err := p.stageAndPromote(ctx, tx, batchID, fileName, position, rec, counters); err != nil {
		counters.Invalid++
		if p.metrics != nil {
			p.metrics.RecordFailures.Inc()
		}
		p.logger.Error("record processing failed",
			zap.String("file", fileName),
			zap.Int("record", position),
			zap.Error(err))
	}
}

// stageAndPromote runs one record through evaluation, staging, and, for a
// valid verdict, promotion. Counters are touched only once the record's
// final disposition is known, so each record contributes exactly one unit
// to exactly one of valid/invalid.
func (p *Processor) stageAndPromote(ctx context.Context, tx BatchTx, batchID, fileName string, position int, rec *claim.Record, counters *Counters) error {
	verdict := p.engine.Evaluate(ctx, rec)

	raw, err := rec.Serialize()
	if err != nil {
		return fmt.Errorf("serialize record: %w", err)
	}

	if err := tx.StageRecord(ctx, &claim.StagingEntry{
		FileName:  fileName,
		Position:  position,
		RawRecord: raw,
		Status:    verdict.Status(),
		Messages:  verdict.Messages(),
	}); err != nil {
		return fmt.Errorf("stage record: %w", err)
	}

	if !verdict.IsValid() {
		counters.Invalid++
		p.countRecord("invalid")
		p.logger.Warn("invalid record",
			zap.String("file", fileName),
			zap.Int("record", position),
			zap.Strings("errors", verdict.Errors))
		return nil
	}

	if _, err := p.promoter.Promote(ctx, tx, batchID, fileName, position, rec); err != nil {
		return fmt.Errorf("promote record: %w", err)
	}

	counters.Valid++
	counters.Processed++
	p.countRecord("valid")
	if p.metrics != nil {
		p.metrics.ClaimsPromoted.Inc()
	}
	return nil
}

func (p *Processor) countBatch(status string) {
	if p.metrics != nil {
		p.metrics.BatchesProcessed.WithLabelValues(status).Inc()
	}
}

func (p *Processor) countRecord(status string) {
	if p.metrics != nil {
		p.metrics.RecordsValidated.WithLabelValues(status).Inc()
	}
}

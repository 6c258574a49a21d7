package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/claim"
	"github.com/rxfeed/claimflow/internal/infrastructure/kafka"
	"github.com/rxfeed/claimflow/internal/pipeline"
	"github.com/rxfeed/claimflow/pkg/circuitbreaker"
)

// BeginBatch opens the per-file unit of work.
func (s *Store) BeginBatch(ctx context.Context) (pipeline.BatchTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch transaction: %w", err)
	}
	return &batchTx{tx: tx, breaker: s.breaker, logger: s.logger}, nil
}

// batchTx implements pipeline.BatchTx on a single pgx transaction. Every
// operation runs inside its own savepoint (a nested pgx transaction), so a
// SQL failure on one record rolls back that record's statement only and the
// file transaction stays usable for the next record.
type batchTx struct {
	tx      pgx.Tx
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func (b *batchTx) withSavepoint(ctx context.Context, fn func(pgx.Tx) error) error {
	sp, err := b.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// StageRecord appends one staging entry. The raw record is stored verbatim;
// messages map onto a text array, NULL when the verdict was clean.
func (b *batchTx) StageRecord(ctx context.Context, entry *claim.StagingEntry) error {
	return b.withSavepoint(ctx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, `
			INSERT INTO claims_staging (
				file_name, record_number, raw_data,
				validation_status, error_messages
			) VALUES ($1, $2, $3, $4, $5)
		`,
			entry.FileName,
			entry.Position,
			string(entry.RawRecord),
			string(entry.Status),
			entry.Messages,
		)
		if err != nil {
			return fmt.Errorf("insert staging entry: %w", err)
		}
		return nil
	})
}

// Adjudicate invokes the process_claim procedure with the resolved keys and
// claim fields, returning its decision row. With a breaker configured the
// call goes through it, so a dead database fails fast instead of timing out
// record by record.
func (b *batchTx) Adjudicate(ctx context.Context, req *claim.AdjudicationRequest) (*claim.AdjudicationResult, error) {
	if b.breaker == nil {
		return b.adjudicate(ctx, req)
	}

	result, err := b.breaker.Execute(ctx, func() (interface{}, error) {
		return b.adjudicate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*claim.AdjudicationResult), nil
}

func (b *batchTx) adjudicate(ctx context.Context, req *claim.AdjudicationRequest) (*claim.AdjudicationResult, error) {
	var result claim.AdjudicationResult
	err := b.withSavepoint(ctx, func(sp pgx.Tx) error {
		return sp.QueryRow(ctx, `
			SELECT * FROM process_claim(
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10, $11
			)
		`,
			req.MemberKey,
			req.DrugKey,
			req.PharmacyKey,
			req.PrescriptionNumber,
			req.DatePrescribed,
			req.DateFilled,
			req.DaysSupply,
			req.Quantity,
			req.PrescriberNPI,
			req.IngredientCost,
			req.DispensingFee,
		).Scan(
			&result.ClaimID,
			&result.Status,
			&result.Copay,
			&result.PlanPaid,
			&result.RejectionCode,
			&result.RejectionDescription,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("process_claim: %w", err)
	}
	return &result, nil
}

// AppendEvent writes the event to the outbox within the batch transaction,
// so the event becomes durable if and only if the batch commits.
func (b *batchTx) AppendEvent(ctx context.Context, event *claim.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	entry := &OutboxEntry{
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    kafka.TopicForEvent(event.EventType),
		KafkaKey:      event.AggregateID,
	}
	return b.withSavepoint(ctx, func(sp pgx.Tx) error {
		return WriteEntry(ctx, sp, entry)
	})
}

func (b *batchTx) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *batchTx) Rollback(ctx context.Context) error {
	return b.tx.Rollback(ctx)
}

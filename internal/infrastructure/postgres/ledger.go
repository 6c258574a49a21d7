package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rxfeed/claimflow/internal/pipeline"
)

// Ledger rows record every processing attempt and deliberately live outside
// the batch transaction: a failed batch rolls back its staging and claims
// work but keeps its ledger row.

// BatchCompleted reports whether a file with this content hash has already
// committed successfully.
func (s *Store) BatchCompleted(ctx context.Context, fileHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM batch_ledger
			WHERE file_hash = $1 AND status = $2
		)
	`, fileHash, string(pipeline.BatchCompleted)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check batch ledger: %w", err)
	}
	return exists, nil
}

// StartLedger records a processing attempt before its batch opens.
func (s *Store) StartLedger(ctx context.Context, entry *pipeline.LedgerEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_ledger (batch_id, file_name, file_hash, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		entry.BatchID,
		entry.FileName,
		entry.FileHash,
		string(entry.Status),
		entry.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// FinishLedger finalizes an attempt with its outcome and counters.
func (s *Store) FinishLedger(ctx context.Context, batchID string, status pipeline.BatchStatus, counters pipeline.Counters, failure string) error {
	var failureParam *string
	if failure != "" {
		failureParam = &failure
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE batch_ledger
		SET status = $2,
		    valid_records = $3,
		    invalid_records = $4,
		    processed_claims = $5,
		    failure = $6,
		    finished_at = NOW()
		WHERE batch_id = $1
	`,
		batchID,
		string(status),
		counters.Valid,
		counters.Invalid,
		counters.Processed,
		failureParam,
	)
	if err != nil {
		return fmt.Errorf("finish ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish ledger entry: %w", pipeline.ErrBatchNotFound)
	}
	return nil
}

// GetBatch returns one ledger entry by batch ID.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*pipeline.LedgerEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT batch_id, file_name, file_hash, status,
		       valid_records, invalid_records, processed_claims,
		       failure, started_at, finished_at
		FROM batch_ledger
		WHERE batch_id = $1
	`, batchID)

	entry, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pipeline.ErrBatchNotFound
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return entry, nil
}

// RecentBatches returns ledger entries newest first.
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]*pipeline.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT batch_id, file_name, file_hash, status,
		       valid_records, invalid_records, processed_claims,
		       failure, started_at, finished_at
		FROM batch_ledger
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var entries []*pipeline.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list batches: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(row pgx.Row) (*pipeline.LedgerEntry, error) {
	var (
		entry    pipeline.LedgerEntry
		status   string
		failure  pgtype.Text
		finished pgtype.Timestamptz
	)
	err := row.Scan(
		&entry.BatchID, &entry.FileName, &entry.FileHash, &status,
		&entry.Counters.Valid, &entry.Counters.Invalid, &entry.Counters.Processed,
		&failure, &entry.StartedAt, &finished,
	)
	if err != nil {
		return nil, err
	}
	entry.Status = pipeline.BatchStatus(status)
	if failure.Valid {
		entry.Failure = failure.String
	}
	if finished.Valid {
		t := finished.Time
		entry.FinishedAt = &t
	}
	return &entry, nil
}

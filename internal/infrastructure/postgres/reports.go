package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rxfeed/claimflow/internal/report"
)

// QualityChecks runs the database's data quality checks.
func (s *Store) QualityChecks(ctx context.Context) ([]report.QualityCheck, error) {
	rows, err := s.pool.Query(ctx, "SELECT * FROM run_data_quality_checks()")
	if err != nil {
		return nil, fmt.Errorf("run quality checks: %w", err)
	}
	defer rows.Close()

	var checks []report.QualityCheck
	for rows.Next() {
		var (
			c       report.QualityCheck
			details pgtype.Text
		)
		if err := rows.Scan(&c.Name, &c.Status, &c.RecordCount, &details); err != nil {
			return nil, fmt.Errorf("scan quality check: %w", err)
		}
		if details.Valid {
			c.Details = details.String
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// BatchStats counts ledger rows by outcome.
func (s *Store) BatchStats(ctx context.Context) (*report.BatchAttempts, error) {
	stats := &report.BatchAttempts{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'started') AS started,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM batch_ledger
	`).Scan(&stats.Total, &stats.Started, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("batch stats: %w", err)
	}
	return stats, nil
}

// StagingSummary groups staging rows by validation status.
func (s *Store) StagingSummary(ctx context.Context) ([]report.StagingStatusRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			validation_status,
			COUNT(*) AS record_count,
			COUNT(DISTINCT file_name) AS file_count
		FROM claims_staging
		GROUP BY validation_status
	`)
	if err != nil {
		return nil, fmt.Errorf("staging summary: %w", err)
	}
	defer rows.Close()

	var summary []report.StagingStatusRow
	for rows.Next() {
		var row report.StagingStatusRow
		if err := rows.Scan(&row.Status, &row.Records, &row.Files); err != nil {
			return nil, fmt.Errorf("scan staging summary: %w", err)
		}
		summary = append(summary, row)
	}
	return summary, rows.Err()
}

// ClaimsSummary groups claims promoted within the window by claim status.
// A status with no priced claims reports a zero total.
func (s *Store) ClaimsSummary(ctx context.Context, days int) ([]report.ClaimsStatusRow, error) {
	if days <= 0 {
		days = report.DefaultClaimsWindowDays
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			claim_status,
			COUNT(*) AS claim_count,
			SUM(total_amount) AS total_amount
		FROM claims
		WHERE created_at >= CURRENT_DATE - $1 * INTERVAL '1 day'
		GROUP BY claim_status
	`, days)
	if err != nil {
		return nil, fmt.Errorf("claims summary: %w", err)
	}
	defer rows.Close()

	var summary []report.ClaimsStatusRow
	for rows.Next() {
		var (
			row   report.ClaimsStatusRow
			total pgtype.Float8
		)
		if err := rows.Scan(&row.Status, &row.Claims, &total); err != nil {
			return nil, fmt.Errorf("scan claims summary: %w", err)
		}
		if total.Valid {
			row.TotalAmount = total.Float64
		}
		summary = append(summary, row)
	}
	return summary, rows.Err()
}

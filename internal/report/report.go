// Package report builds data quality and processing summary reports from
// the staging and claims tables.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// QualityCheck is one row returned by the run_data_quality_checks procedure.
type QualityCheck struct {
	Name        string `json:"check_name"`
	Status      string `json:"status"`
	RecordCount int64  `json:"record_count"`
	Details     string `json:"details"`
}

// StagingStatusRow summarizes staging rows sharing a validation status.
type StagingStatusRow struct {
	Status  string `json:"status"`
	Records int64  `json:"records"`
	Files   int64  `json:"files"`
}

// ClaimsStatusRow summarizes recently promoted claims sharing a status.
type ClaimsStatusRow struct {
	Status      string  `json:"status"`
	Claims      int64   `json:"claims"`
	TotalAmount float64 `json:"total_amount"`
}

// BatchAttempts counts batch ledger rows by outcome. Started rows belong to
// batches still in flight or abandoned mid-run.
type BatchAttempts struct {
	Total     int64 `json:"total"`
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Summary is the processing summary across the ledger, staging and recent
// claims.
type Summary struct {
	Batches      *BatchAttempts     `json:"batches"`
	Staging      []StagingStatusRow `json:"staging"`
	RecentClaims []ClaimsStatusRow  `json:"recent_claims"`
	WindowDays   int                `json:"window_days"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// Source provides the report queries. The postgres store implements it.
type Source interface {
	QualityChecks(ctx context.Context) ([]QualityCheck, error)
	BatchStats(ctx context.Context) (*BatchAttempts, error)
	StagingSummary(ctx context.Context) ([]StagingStatusRow, error)
	ClaimsSummary(ctx context.Context, days int) ([]ClaimsStatusRow, error)
}

// DefaultClaimsWindowDays is how far back the claims summary looks.
const DefaultClaimsWindowDays = 7

// Service runs report queries and renders them.
type Service struct {
	source Source
	logger *zap.Logger
}

// NewService creates a report service.
func NewService(source Source, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, logger: logger}
}

// Quality returns the data quality check results.
func (s *Service) Quality(ctx context.Context) ([]QualityCheck, error) {
	checks, err := s.source.QualityChecks(ctx)
	if err != nil {
		return nil, fmt.Errorf("quality checks: %w", err)
	}
	return checks, nil
}

// Summary returns the ledger, staging and recent-claims processing summary.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	batches, err := s.source.BatchStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch stats: %w", err)
	}
	staging, err := s.source.StagingSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("staging summary: %w", err)
	}
	claims, err := s.source.ClaimsSummary(ctx, DefaultClaimsWindowDays)
	if err != nil {
		return nil, fmt.Errorf("claims summary: %w", err)
	}
	return &Summary{
		Batches:      batches,
		Staging:      staging,
		RecentClaims: claims,
		WindowDays:   DefaultClaimsWindowDays,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

// WriteQuality fetches the quality checks and renders them as text.
func (s *Service) WriteQuality(ctx context.Context, w io.Writer) error {
	checks, err := s.Quality(ctx)
	if err != nil {
		return err
	}
	RenderQuality(w, checks)
	return nil
}

// WriteSummary fetches the processing summary and renders it as text.
func (s *Service) WriteSummary(ctx context.Context, w io.Writer) error {
	summary, err := s.Summary(ctx)
	if err != nil {
		return err
	}
	RenderSummary(w, summary)
	return nil
}

const bannerWidth = 60

func banner(w io.Writer, title string) {
	line := strings.Repeat("=", bannerWidth)
	fmt.Fprintf(w, "\n%s\n%s\n%s\n", line, title, line)
}

// RenderQuality writes the quality check results as text.
func RenderQuality(w io.Writer, checks []QualityCheck) {
	banner(w, "DATA QUALITY REPORT")
	for _, c := range checks {
		fmt.Fprintf(w, "[%s] %s\n", c.Status, c.Name)
		fmt.Fprintf(w, "      Records: %d\n", c.RecordCount)
		if c.Details != "" {
			fmt.Fprintf(w, "      Details: %s\n", c.Details)
		}
		fmt.Fprintln(w)
	}
}

// RenderSummary writes the processing summary as text.
func RenderSummary(w io.Writer, summary *Summary) {
	banner(w, "ETL PROCESSING SUMMARY")

	fmt.Fprintln(w, "\nBatch Ledger:")
	if summary.Batches == nil || summary.Batches.Total == 0 {
		fmt.Fprintln(w, "  no batches recorded")
	} else {
		b := summary.Batches
		fmt.Fprintf(w, "  %d attempts: %d completed, %d failed, %d in flight\n",
			b.Total, b.Completed, b.Failed, b.Started)
	}

	fmt.Fprintln(w, "\nStaging Table Status:")
	if len(summary.Staging) == 0 {
		fmt.Fprintln(w, "  no staged records")
	}
	for _, row := range summary.Staging {
		fmt.Fprintf(w, "  %s: %d records from %d files\n",
			strings.ToUpper(row.Status), row.Records, row.Files)
	}

	fmt.Fprintf(w, "\nRecent Claims Processing (Last %d days):\n", summary.WindowDays)
	if len(summary.RecentClaims) == 0 {
		fmt.Fprintln(w, "  no claims processed")
	}
	for _, row := range summary.RecentClaims {
		fmt.Fprintf(w, "  %s: %d claims, $%.2f\n",
			strings.ToUpper(row.Status), row.Claims, row.TotalAmount)
	}
}

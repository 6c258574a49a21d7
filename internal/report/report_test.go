package report

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubSource struct {
	checks  []QualityCheck
	batches *BatchAttempts
	staging []StagingStatusRow
	claims  []ClaimsStatusRow

	claimsDays int
	err        error
}

var _ Source = (*stubSource)(nil)

func (s *stubSource) QualityChecks(ctx context.Context) ([]QualityCheck, error) {
	return s.checks, s.err
}

func (s *stubSource) BatchStats(ctx context.Context) (*BatchAttempts, error) {
	return s.batches, s.err
}

func (s *stubSource) StagingSummary(ctx context.Context) ([]StagingStatusRow, error) {
	return s.staging, s.err
}

func (s *stubSource) ClaimsSummary(ctx context.Context, days int) ([]ClaimsStatusRow, error) {
	s.claimsDays = days
	return s.claims, s.err
}

func TestSummaryUsesDefaultWindow(t *testing.T) {
	source := &stubSource{
		staging: []StagingStatusRow{{Status: "valid", Records: 12, Files: 2}},
		claims:  []ClaimsStatusRow{{Status: "APPROVED", Claims: 10, TotalAmount: 125.50}},
	}
	svc := NewService(source, nil)

	summary, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if source.claimsDays != DefaultClaimsWindowDays {
		t.Errorf("claims window = %d, want %d", source.claimsDays, DefaultClaimsWindowDays)
	}
	if summary.WindowDays != DefaultClaimsWindowDays {
		t.Errorf("summary window = %d, want %d", summary.WindowDays, DefaultClaimsWindowDays)
	}
	if summary.GeneratedAt.IsZero() {
		t.Error("summary timestamp not set")
	}
}

func TestSummaryPropagatesSourceError(t *testing.T) {
	source := &stubSource{err: errors.New("connection reset")}
	svc := NewService(source, nil)

	if _, err := svc.Summary(context.Background()); err == nil {
		t.Fatal("Summary() expected error")
	}
}

func TestWriteQualityRendersChecks(t *testing.T) {
	source := &stubSource{
		checks: []QualityCheck{
			{Name: "orphaned_staging_records", Status: "PASS", RecordCount: 0},
			{Name: "claims_missing_pricing", Status: "FAIL", RecordCount: 3, Details: "3 claims have no cost breakdown"},
		},
	}
	svc := NewService(source, nil)

	var buf strings.Builder
	if err := svc.WriteQuality(context.Background(), &buf); err != nil {
		t.Fatalf("WriteQuality() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"DATA QUALITY REPORT",
		"[PASS] orphaned_staging_records",
		"[FAIL] claims_missing_pricing",
		"Records: 3",
		"Details: 3 claims have no cost breakdown",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("quality report missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSummaryRendersSections(t *testing.T) {
	source := &stubSource{
		batches: &BatchAttempts{Total: 6, Started: 1, Completed: 4, Failed: 1},
		staging: []StagingStatusRow{
			{Status: "valid", Records: 120, Files: 3},
			{Status: "invalid", Records: 5, Files: 2},
		},
		claims: []ClaimsStatusRow{
			{Status: "APPROVED", Claims: 100, TotalAmount: 12345.10},
			{Status: "REJECTED", Claims: 20},
		},
	}
	svc := NewService(source, nil)

	var buf strings.Builder
	if err := svc.WriteSummary(context.Background(), &buf); err != nil {
		t.Fatalf("WriteSummary() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"ETL PROCESSING SUMMARY",
		"6 attempts: 4 completed, 1 failed, 1 in flight",
		"VALID: 120 records from 3 files",
		"INVALID: 5 records from 2 files",
		"Last 7 days",
		"APPROVED: 100 claims, $12345.10",
		"REJECTED: 20 claims, $0.00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSummaryEmptySections(t *testing.T) {
	var buf strings.Builder
	RenderSummary(&buf, &Summary{WindowDays: DefaultClaimsWindowDays})

	out := buf.String()
	if !strings.Contains(out, "no batches recorded") {
		t.Errorf("empty ledger section not rendered:\n%s", out)
	}
	if !strings.Contains(out, "no staged records") {
		t.Errorf("empty staging section not rendered:\n%s", out)
	}
	if !strings.Contains(out, "no claims processed") {
		t.Errorf("empty claims section not rendered:\n%s", out)
	}
}

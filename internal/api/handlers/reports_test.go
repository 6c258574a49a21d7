package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/rxfeed/claimflow/internal/report"
)

type stubReportSource struct {
	checks  []report.QualityCheck
	batches *report.BatchAttempts
	staging []report.StagingStatusRow
	claims  []report.ClaimsStatusRow
	err     error
}

var _ report.Source = (*stubReportSource)(nil)

func (s *stubReportSource) QualityChecks(ctx context.Context) ([]report.QualityCheck, error) {
	return s.checks, s.err
}

func (s *stubReportSource) BatchStats(ctx context.Context) (*report.BatchAttempts, error) {
	return s.batches, s.err
}

func (s *stubReportSource) StagingSummary(ctx context.Context) ([]report.StagingStatusRow, error) {
	return s.staging, s.err
}

func (s *stubReportSource) ClaimsSummary(ctx context.Context, days int) ([]report.ClaimsStatusRow, error) {
	return s.claims, s.err
}

func newReportRouter(source report.Source) *chi.Mux {
	h := NewReportHandler(report.NewService(source, nil), nil)
	r := chi.NewRouter()
	r.Mount("/reports", h.Routes())
	return r
}

func TestQualityReturnsChecks(t *testing.T) {
	source := &stubReportSource{
		checks: []report.QualityCheck{
			{Name: "orphaned_staging_records", Status: "PASS", RecordCount: 0},
			{Name: "claims_missing_pricing", Status: "FAIL", RecordCount: 2, Details: "2 claims have no cost breakdown"},
		},
	}
	router := newReportRouter(source)

	req := httptest.NewRequest(http.MethodGet, "/reports/quality", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp QualityResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(resp.Checks))
	}
	if resp.Checks[1].Details != "2 claims have no cost breakdown" {
		t.Errorf("details = %q", resp.Checks[1].Details)
	}
	if resp.GeneratedAt.IsZero() {
		t.Error("generated_at not set")
	}
}

func TestQualityTextFormat(t *testing.T) {
	source := &stubReportSource{
		checks: []report.QualityCheck{{Name: "orphaned_staging_records", Status: "PASS"}},
	}
	router := newReportRouter(source)

	req := httptest.NewRequest(http.MethodGet, "/reports/quality?format=text", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain", ct)
	}
	if !strings.Contains(rec.Body.String(), "DATA QUALITY REPORT") {
		t.Errorf("text report missing banner:\n%s", rec.Body.String())
	}
}

func TestQualityReportsSourceFailure(t *testing.T) {
	router := newReportRouter(&stubReportSource{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/reports/quality", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestSummaryReturnsSections(t *testing.T) {
	source := &stubReportSource{
		batches: &report.BatchAttempts{Total: 3, Completed: 2, Failed: 1},
		staging: []report.StagingStatusRow{{Status: "valid", Records: 40, Files: 2}},
		claims:  []report.ClaimsStatusRow{{Status: "APPROVED", Claims: 38, TotalAmount: 912.40}},
	}
	router := newReportRouter(source)

	req := httptest.NewRequest(http.MethodGet, "/reports/summary", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var summary report.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.Batches == nil || summary.Batches.Completed != 2 {
		t.Errorf("batches = %+v, want 2 completed", summary.Batches)
	}
	if len(summary.Staging) != 1 || summary.Staging[0].Records != 40 {
		t.Errorf("staging = %+v", summary.Staging)
	}
	if summary.WindowDays != report.DefaultClaimsWindowDays {
		t.Errorf("window = %d, want %d", summary.WindowDays, report.DefaultClaimsWindowDays)
	}
}

func TestSummaryTextFormat(t *testing.T) {
	source := &stubReportSource{
		batches: &report.BatchAttempts{Total: 1, Completed: 1},
	}
	router := newReportRouter(source)

	req := httptest.NewRequest(http.MethodGet, "/reports/summary?format=text", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "ETL PROCESSING SUMMARY") {
		t.Errorf("text report missing banner:\n%s", body)
	}
	if !strings.Contains(body, "1 attempts: 1 completed, 0 failed, 0 in flight") {
		t.Errorf("text report missing ledger line:\n%s", body)
	}
}

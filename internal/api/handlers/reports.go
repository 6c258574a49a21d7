package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/report"
)

// ReportHandler serves data quality and processing summary reports
type ReportHandler struct {
	reports *report.Service
	logger  *zap.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports *report.Service, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{reports: reports, logger: logger}
}

// Routes returns the router for report endpoints
func (h *ReportHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/quality", h.Quality)
	r.Get("/summary", h.Summary)
	return r
}

// QualityResponse wraps the data quality check rows
type QualityResponse struct {
	Checks      []report.QualityCheck `json:"checks"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Quality returns the data quality check results. Pass format=text for the
// rendered report.
func (h *ReportHandler) Quality(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks, err := h.reports.Quality(ctx)
	if err != nil {
		h.logger.Error("quality report failed", zap.Error(err))
		jsonError(w, "failed to run quality checks", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		report.RenderQuality(w, checks)
		return
	}

	writeJSON(w, http.StatusOK, QualityResponse{
		Checks:      checks,
		GeneratedAt: time.Now().UTC(),
	})
}

// Summary returns the staging and recent-claims processing summary. Pass
// format=text for the rendered report.
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, err := h.reports.Summary(ctx)
	if err != nil {
		h.logger.Error("summary report failed", zap.Error(err))
		jsonError(w, "failed to build processing summary", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		report.RenderSummary(w, summary)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

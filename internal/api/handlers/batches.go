package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/api/middleware"
	"github.com/rxfeed/claimflow/internal/intake"
	"github.com/rxfeed/claimflow/internal/pipeline"
)

// maxUploadBytes caps the size of a submitted batch file.
const maxUploadBytes = 25 << 20

// BatchLedger is the slice of the batch ledger the API reads.
type BatchLedger interface {
	BatchCompleted(ctx context.Context, fileHash string) (bool, error)
	GetBatch(ctx context.Context, batchID string) (*pipeline.LedgerEntry, error)
	RecentBatches(ctx context.Context, limit int) ([]*pipeline.LedgerEntry, error)
}

// BatchHandler handles batch submission and status requests
type BatchHandler struct {
	ledger BatchLedger
	queue  *intake.Queue
	logger *zap.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(ledger BatchLedger, queue *intake.Queue, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{
		ledger: ledger,
		queue:  queue,
		logger: logger,
	}
}

// Routes returns the router for batch endpoints
func (h *BatchHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.Get("/{batchID}", h.Get)
	return r
}

// SubmitResponse is returned when a batch is accepted for processing
type SubmitResponse struct {
	BatchID    string    `json:"batch_id"`
	FileName   string    `json:"file_name"`
	FileHash   string    `json:"file_hash"`
	Status     string    `json:"status"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// BatchStatus describes one ledger entry
type BatchStatus struct {
	BatchID         string     `json:"batch_id"`
	FileName        string     `json:"file_name"`
	FileHash        string     `json:"file_hash"`
	Status          string     `json:"status"`
	ValidRecords    int        `json:"valid_records"`
	InvalidRecords  int        `json:"invalid_records"`
	ProcessedClaims int        `json:"processed_claims"`
	TotalRecords    int        `json:"total_records"`
	Failure         string     `json:"failure,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// ListResponse wraps a page of ledger entries
type ListResponse struct {
	Batches []BatchStatus `json:"batches"`
	Count   int           `json:"count"`
}

// Submit accepts a claims batch file and queues it for processing.
// The whole file is read up front so the submission can be hashed and
// checked against the ledger before the client gets a response.
func (h *BatchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	tracer := otel.Tracer("batch-handler")
	ctx, span := tracer.Start(r.Context(), "submit_batch")
	defer span.End()

	fileName, payload, err := readBatchUpload(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			jsonError(w, "batch file too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !pipeline.SupportedFormat(fileName) {
		jsonError(w, "unsupported batch file format", http.StatusUnsupportedMediaType)
		return
	}

	sum := sha256.Sum256(payload)
	fileHash := hex.EncodeToString(sum[:])
	span.SetAttributes(
		attribute.String("batch.file_name", fileName),
		attribute.Int("batch.bytes", len(payload)),
	)

	completed, err := h.ledger.BatchCompleted(ctx, fileHash)
	if err != nil {
		h.logger.Error("ledger lookup failed",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		jsonError(w, "batch ledger unavailable", http.StatusInternalServerError)
		return
	}
	if completed {
		jsonError(w, "batch already processed", http.StatusConflict)
		return
	}

	// The submission ID doubles as the ledger batch ID, so the status
	// endpoint works with the ID returned here.
	batchID := uuid.New().String()
	sub := &intake.Submission{
		ID:          batchID,
		FileName:    fileName,
		Payload:     payload,
		SubmittedAt: time.Now().UTC(),
	}

	if err := h.queue.Enqueue(sub); err != nil {
		if errors.Is(err, intake.ErrQueueFull) || errors.Is(err, intake.ErrStopped) {
			jsonError(w, "intake queue unavailable, retry later", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("enqueue failed", zap.Error(err))
		jsonError(w, "failed to accept batch", http.StatusInternalServerError)
		return
	}

	h.logger.Info("batch accepted",
		zap.String("batch_id", batchID),
		zap.String("file_name", fileName),
		zap.String("client_id", middleware.GetClientID(ctx)),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		BatchID:    batchID,
		FileName:   fileName,
		FileHash:   fileHash,
		Status:     "accepted",
		AcceptedAt: sub.SubmittedAt,
	})
}

// Get returns the ledger entry for one batch
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "batchID")

	entry, err := h.ledger.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, pipeline.ErrBatchNotFound) {
			jsonError(w, "batch not found", http.StatusNotFound)
			return
		}
		h.logger.Error("batch lookup failed",
			zap.Error(err),
			zap.String("batch_id", batchID))
		jsonError(w, "failed to load batch", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newBatchStatus(entry))
}

// List returns recent ledger entries, newest first
func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	entries, err := h.ledger.RecentBatches(ctx, limit)
	if err != nil {
		h.logger.Error("ledger list failed", zap.Error(err))
		jsonError(w, "failed to list batches", http.StatusInternalServerError)
		return
	}

	batches := make([]BatchStatus, 0, len(entries))
	for _, entry := range entries {
		batches = append(batches, newBatchStatus(entry))
	}

	writeJSON(w, http.StatusOK, ListResponse{Batches: batches, Count: len(batches)})
}

func newBatchStatus(entry *pipeline.LedgerEntry) BatchStatus {
	return BatchStatus{
		BatchID:         entry.BatchID,
		FileName:        entry.FileName,
		FileHash:        entry.FileHash,
		Status:          string(entry.Status),
		ValidRecords:    entry.Counters.Valid,
		InvalidRecords:  entry.Counters.Invalid,
		ProcessedClaims: entry.Counters.Processed,
		TotalRecords:    entry.Counters.Total(),
		Failure:         entry.Failure,
		StartedAt:       entry.StartedAt,
		FinishedAt:      entry.FinishedAt,
	}
}

// readBatchUpload pulls the batch payload from either a multipart form
// or the raw request body.
func readBatchUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return "", nil, err
			}
			return "", nil, errors.New("multipart upload requires a file field")
		}
		defer file.Close()

		payload, err := io.ReadAll(file)
		if err != nil {
			return "", nil, err
		}
		if len(payload) == 0 {
			return "", nil, errors.New("uploaded file is empty")
		}
		return filepath.Base(header.Filename), payload, nil
	}

	fileName := r.URL.Query().Get("filename")
	if fileName == "" {
		fileName = r.Header.Get("X-File-Name")
	}
	if fileName == "" {
		return "", nil, errors.New("filename query parameter or X-File-Name header is required")
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	if len(payload) == 0 {
		return "", nil, errors.New("request body is empty")
	}
	return filepath.Base(fileName), payload, nil
}

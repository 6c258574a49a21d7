package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/intake"
	"github.com/rxfeed/claimflow/internal/pipeline"
)

type stubLedger struct {
	completed    bool
	completedErr error
	entry        *pipeline.LedgerEntry
	getErr       error
	entries      []*pipeline.LedgerEntry
	listErr      error

	lastHash  string
	lastLimit int
}

var _ BatchLedger = (*stubLedger)(nil)

func (s *stubLedger) BatchCompleted(ctx context.Context, fileHash string) (bool, error) {
	s.lastHash = fileHash
	return s.completed, s.completedErr
}

func (s *stubLedger) GetBatch(ctx context.Context, batchID string) (*pipeline.LedgerEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.entry, nil
}

func (s *stubLedger) RecentBatches(ctx context.Context, limit int) ([]*pipeline.LedgerEntry, error) {
	s.lastLimit = limit
	return s.entries, s.listErr
}

func newTestRouter(t *testing.T, ledger BatchLedger, queue *intake.Queue) chi.Router {
	t.Helper()
	h := NewBatchHandler(ledger, queue, zap.NewNop())
	r := chi.NewRouter()
	r.Mount("/batches", h.Routes())
	return r
}

func newTestQueue(t *testing.T, size int, fn intake.ProcessFunc) *intake.Queue {
	t.Helper()
	if fn == nil {
		fn = func(ctx context.Context, sub *intake.Submission) error { return nil }
	}
	q, err := intake.New(intake.Config{QueueSize: size, GracefulShutdownTimeout: time.Second}, fn, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New queue: %v", err)
	}
	return q
}

func TestSubmitAcceptsBatch(t *testing.T) {
	received := make(chan *intake.Submission, 1)
	queue := newTestQueue(t, 4, func(ctx context.Context, sub *intake.Submission) error {
		received <- sub
		return nil
	})
	queue.Start()
	defer queue.Stop()

	ledger := &stubLedger{}
	router := newTestRouter(t, ledger, queue)

	payload := []byte(`{"claims":[{"member_id":"M000001"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/batches?filename=claims.json", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.BatchID == "" {
		t.Error("expected a batch ID")
	}
	if resp.FileName != "claims.json" {
		t.Errorf("FileName = %q, want claims.json", resp.FileName)
	}
	if resp.Status != "accepted" {
		t.Errorf("Status = %q, want accepted", resp.Status)
	}

	sum := sha256.Sum256(payload)
	wantHash := hex.EncodeToString(sum[:])
	if resp.FileHash != wantHash {
		t.Errorf("FileHash = %q, want %q", resp.FileHash, wantHash)
	}
	if ledger.lastHash != wantHash {
		t.Errorf("ledger checked hash %q, want %q", ledger.lastHash, wantHash)
	}

	select {
	case sub := <-received:
		if sub.ID != resp.BatchID {
			t.Errorf("worker saw submission %q, response promised %q", sub.ID, resp.BatchID)
		}
		if !bytes.Equal(sub.Payload, payload) {
			t.Error("payload did not survive the queue")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission never reached the worker")
	}
}

func TestSubmitMultipartUpload(t *testing.T) {
	queue := newTestQueue(t, 4, nil)
	queue.Start()
	defer queue.Stop()

	router := newTestRouter(t, &stubLedger{}, queue)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "weekly_claims.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("member_id,ndc\nM000001,00093-0058-01\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/batches", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.FileName != "weekly_claims.csv" {
		t.Errorf("FileName = %q, want weekly_claims.csv", resp.FileName)
	}
}

func TestSubmitRejectsEmptyMultipartFile(t *testing.T) {
	queue := newTestQueue(t, 4, nil)
	router := newTestRouter(t, &stubLedger{}, queue)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if _, err := mw.CreateFormFile("file", "claims.json"); err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/batches", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestSubmitRejectsMissingMultipartFileField(t *testing.T) {
	queue := newTestQueue(t, 4, nil)
	router := newTestRouter(t, &stubLedger{}, queue)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "no file attached")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/batches", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestSubmitRejectsDuplicateBatch(t *testing.T) {
	queue := newTestQueue(t, 4, nil)
	router := newTestRouter(t, &stubLedger{completed: true}, queue)

	req := httptest.NewRequest(http.MethodPost, "/batches?filename=claims.json", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSubmitRejectsUnsupportedFormat(t *testing.T) {
	queue := newTestQueue(t, 4, nil)
	router := newTestRouter(t, &stubLedger{}, queue)

	req := httptest.NewRequest(http.MethodPost, "/batches?filename=claims.parquet", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnsupportedMediaType)
	}
}

func TestSubmitRequiresFileName(t *testing.T) {
	queue := newTestQueue(t, 4, nil)
	router := newTestRouter(t, &stubLedger{}, queue)

	req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSubmitReportsQueuePressure(t *testing.T) {
	// The worker is never started, so the single slot stays occupied.
	queue := newTestQueue(t, 1, nil)
	router := newTestRouter(t, &stubLedger{}, queue)

	first := httptest.NewRequest(http.MethodPost, "/batches?filename=a.json", bytes.NewReader([]byte(`{"a":1}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, first)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first submit status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	second := httptest.NewRequest(http.MethodPost, "/batches?filename=b.json", bytes.NewReader([]byte(`{"b":2}`)))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, second)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("second submit status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	queue := newTestQueue(t, 4, nil)
	queue.Start()
	queue.Stop()

	router := newTestRouter(t, &stubLedger{}, queue)

	req := httptest.NewRequest(http.MethodPost, "/batches?filename=claims.json", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestGetBatchReturnsLedgerEntry(t *testing.T) {
	finished := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	entry := &pipeline.LedgerEntry{
		BatchID:    "batch-123",
		FileName:   "claims.json",
		FileHash:   "abc123",
		Status:     pipeline.BatchCompleted,
		Counters:   pipeline.Counters{Valid: 8, Invalid: 2, Processed: 8},
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
	}
	router := newTestRouter(t, &stubLedger{entry: entry}, newTestQueue(t, 1, nil))

	req := httptest.NewRequest(http.MethodGet, "/batches/batch-123", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var status BatchStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.BatchID != "batch-123" {
		t.Errorf("BatchID = %q, want batch-123", status.BatchID)
	}
	if status.Status != "completed" {
		t.Errorf("Status = %q, want completed", status.Status)
	}
	if status.ValidRecords != 8 || status.InvalidRecords != 2 || status.ProcessedClaims != 8 {
		t.Errorf("counters = %d/%d/%d, want 8/2/8",
			status.ValidRecords, status.InvalidRecords, status.ProcessedClaims)
	}
	if status.TotalRecords != 10 {
		t.Errorf("TotalRecords = %d, want 10", status.TotalRecords)
	}
	if status.FinishedAt == nil || !status.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", status.FinishedAt, finished)
	}
}

func TestGetBatchNotFound(t *testing.T) {
	router := newTestRouter(t, &stubLedger{getErr: pipeline.ErrBatchNotFound}, newTestQueue(t, 1, nil))

	req := httptest.NewRequest(http.MethodGet, "/batches/unknown", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListBatches(t *testing.T) {
	ledger := &stubLedger{
		entries: []*pipeline.LedgerEntry{
			{BatchID: "b1", Status: pipeline.BatchCompleted},
			{BatchID: "b2", Status: pipeline.BatchFailed},
		},
	}
	router := newTestRouter(t, ledger, newTestQueue(t, 1, nil))

	req := httptest.NewRequest(http.MethodGet, "/batches?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Batches) != 2 {
		t.Fatalf("count = %d with %d batches, want 2", resp.Count, len(resp.Batches))
	}
	if ledger.lastLimit != 10 {
		t.Errorf("limit passed to ledger = %d, want 10", ledger.lastLimit)
	}
}

func TestListBatchesRejectsBadLimit(t *testing.T) {
	router := newTestRouter(t, &stubLedger{}, newTestQueue(t, 1, nil))

	req := httptest.NewRequest(http.MethodGet, "/batches?limit=nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

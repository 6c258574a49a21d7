// Package integration exercises the claims pipeline end to end: sample feed
// files on disk, decoding, validation against reference data, staging,
// adjudication, event emission, and ledger idempotency. The store is an
// in-memory double with the same transactional behavior as the postgres one.
package integration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/claim"
	"github.com/rxfeed/claimflow/internal/pipeline"
	"github.com/rxfeed/claimflow/internal/refdata"
	"github.com/rxfeed/claimflow/internal/samples"
)

// memStore implements pipeline.Store and refdata.Lookup over maps. Batch
// transactions buffer their writes and apply them on Commit, so rollback
// semantics match the real store.
type memStore struct {
	members    map[string]bool
	drugs      map[string]int64
	pharmacies map[string]int64

	ledger  map[string]*pipeline.LedgerEntry
	staged  []*claim.StagingEntry
	adjud   []*claim.AdjudicationRequest
	events  []*claim.Event
	claimID int64
}

var (
	_ pipeline.Store = (*memStore)(nil)
	_ refdata.Lookup = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		members: map[string]bool{
			"M000001": true,
			"M000002": true,
			"M000006": true,
		},
		drugs: map[string]int64{
			"00093-0058-01": 101,
			"00378-0221-05": 102,
			"50458-220-10":  103,
		},
		pharmacies: map[string]int64{
			"1234567890": 201,
			"1234567891": 202,
			"1234567897": 203,
		},
		ledger: make(map[string]*pipeline.LedgerEntry),
	}
}

func (s *memStore) MemberIsActive(ctx context.Context, memberID string) (bool, error) {
	return s.members[memberID], nil
}

func (s *memStore) DrugExists(ctx context.Context, ndc string) (bool, error) {
	_, ok := s.drugs[ndc]
	return ok, nil
}

func (s *memStore) PharmacyInNetwork(ctx context.Context, npi string) (bool, error) {
	_, ok := s.pharmacies[npi]
	return ok, nil
}

func (s *memStore) DrugKey(ctx context.Context, ndc string) (int64, bool, error) {
	key, ok := s.drugs[ndc]
	return key, ok, nil
}

func (s *memStore) PharmacyKey(ctx context.Context, npi string) (int64, bool, error) {
	key, ok := s.pharmacies[npi]
	return key, ok, nil
}

func (s *memStore) BatchCompleted(ctx context.Context, fileHash string) (bool, error) {
	for _, entry := range s.ledger {
		if entry.FileHash == fileHash && entry.Status == pipeline.BatchCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) StartLedger(ctx context.Context, entry *pipeline.LedgerEntry) error {
	clone := *entry
	s.ledger[entry.BatchID] = &clone
	return nil
}

func (s *memStore) FinishLedger(ctx context.Context, batchID string, status pipeline.BatchStatus, counters pipeline.Counters, failure string) error {
	row, ok := s.ledger[batchID]
	if !ok {
		return pipeline.ErrBatchNotFound
	}
	now := time.Now().UTC()
	row.Status = status
	row.Counters = counters
	row.Failure = failure
	row.FinishedAt = &now
	return nil
}

func (s *memStore) BeginBatch(ctx context.Context) (pipeline.BatchTx, error) {
	return &memTx{store: s}, nil
}

type memTx struct {
	store     *memStore
	staged    []*claim.StagingEntry
	adjud     []*claim.AdjudicationRequest
	events    []*claim.Event
	committed bool
}

func (t *memTx) StageRecord(ctx context.Context, entry *claim.StagingEntry) error {
	clone := *entry
	t.staged = append(t.staged, &clone)
	return nil
}

func (t *memTx) Adjudicate(ctx context.Context, req *claim.AdjudicationRequest) (*claim.AdjudicationResult, error) {
	clone := *req
	t.adjud = append(t.adjud, &clone)
	t.store.claimID++
	return &claim.AdjudicationResult{
		ClaimID:  t.store.claimID,
		Status:   "approved",
		Copay:    10,
		PlanPaid: req.IngredientCost - 10,
	}, nil
}

func (t *memTx) AppendEvent(ctx context.Context, event *claim.Event) error {
	t.events = append(t.events, event)
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	t.store.staged = append(t.store.staged, t.staged...)
	t.store.adjud = append(t.store.adjud, t.adjud...)
	t.store.events = append(t.store.events, t.events...)
	t.committed = true
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	return nil
}

func TestPipelineProcessesSampleFeed(t *testing.T) {
	dir := t.TempDir()
	paths, err := samples.WriteSampleFiles(dir)
	if err != nil {
		t.Fatalf("WriteSampleFiles: %v", err)
	}

	store := newMemStore()
	proc := pipeline.NewProcessor(store, store, pipeline.DefaultPromotionPolicy(), nil, zap.NewNop())
	ctx := context.Background()

	var validPath, invalidPath string
	for _, p := range paths {
		switch filepath.Base(p) {
		case "sample_valid_claims.json":
			validPath = p
		case "sample_invalid_claims.json":
			invalidPath = p
		}
	}

	counters, err := proc.ProcessFile(ctx, validPath)
	if err != nil {
		t.Fatalf("process valid file: %v", err)
	}
	if counters.Valid != 3 || counters.Invalid != 0 || counters.Processed != 3 {
		t.Fatalf("valid file counters = %+v, want 3/0/3", counters)
	}

	counters, err = proc.ProcessFile(ctx, invalidPath)
	if err != nil {
		t.Fatalf("process invalid file: %v", err)
	}
	if counters.Valid != 0 || counters.Invalid != 2 || counters.Processed != 0 {
		t.Fatalf("invalid file counters = %+v, want 0/2/0", counters)
	}

	// Every record, valid or not, left a staging entry.
	if len(store.staged) != 5 {
		t.Errorf("staged %d entries, want 5", len(store.staged))
	}
	validStaged, invalidStaged := 0, 0
	for _, entry := range store.staged {
		switch entry.Status {
		case claim.StagingValid:
			validStaged++
		case claim.StagingInvalid:
			invalidStaged++
		}
	}
	if validStaged != 3 || invalidStaged != 2 {
		t.Errorf("staging split = %d valid / %d invalid, want 3/2", validStaged, invalidStaged)
	}

	// Only valid records reached adjudication, with resolved keys.
	if len(store.adjud) != 3 {
		t.Fatalf("adjudicated %d claims, want 3", len(store.adjud))
	}
	first := store.adjud[0]
	if first.MemberKey != 1 {
		t.Errorf("first MemberKey = %d, want 1", first.MemberKey)
	}
	if first.DrugKey != 101 || first.PharmacyKey != 201 {
		t.Errorf("first keys = drug %d / pharmacy %d, want 101/201", first.DrugKey, first.PharmacyKey)
	}
	if first.Quantity != 60 {
		t.Errorf("first Quantity = %v, want 60", first.Quantity)
	}
	wantIngredient := 17.50 * 0.9
	if diff := first.IngredientCost - wantIngredient; diff < -0.0001 || diff > 0.0001 {
		t.Errorf("first IngredientCost = %v, want %v", first.IngredientCost, wantIngredient)
	}

	// Promoted events for each claim plus one batch event per file.
	promoted, completed := 0, 0
	for _, ev := range store.events {
		switch ev.EventType {
		case claim.EventClaimPromoted:
			promoted++
		case claim.EventBatchCompleted:
			completed++
		}
	}
	if promoted != 3 {
		t.Errorf("promoted events = %d, want 3", promoted)
	}
	if completed != 2 {
		t.Errorf("batch completed events = %d, want 2", completed)
	}

	// Both ledger rows finished as completed with matching counters.
	for _, entry := range store.ledger {
		if entry.Status != pipeline.BatchCompleted {
			t.Errorf("ledger %s status = %s, want completed", entry.FileName, entry.Status)
		}
		if entry.FinishedAt == nil {
			t.Errorf("ledger %s has no finish time", entry.FileName)
		}
	}
}

func TestPipelineSkipsAlreadyProcessedFile(t *testing.T) {
	dir := t.TempDir()
	paths, err := samples.WriteSampleFiles(dir)
	if err != nil {
		t.Fatalf("WriteSampleFiles: %v", err)
	}
	var validPath string
	for _, p := range paths {
		if filepath.Base(p) == "sample_valid_claims.json" {
			validPath = p
		}
	}

	store := newMemStore()
	proc := pipeline.NewProcessor(store, store, pipeline.DefaultPromotionPolicy(), nil, zap.NewNop())
	ctx := context.Background()

	if _, err := proc.ProcessFile(ctx, validPath); err != nil {
		t.Fatalf("first run: %v", err)
	}

	_, err = proc.ProcessFile(ctx, validPath)
	if !errors.Is(err, pipeline.ErrBatchAlreadyProcessed) {
		t.Fatalf("second run error = %v, want ErrBatchAlreadyProcessed", err)
	}

	// The rerun must not have touched staging or adjudication again.
	if len(store.staged) != 3 {
		t.Errorf("staged %d entries after rerun, want 3", len(store.staged))
	}
	if len(store.adjud) != 3 {
		t.Errorf("adjudicated %d claims after rerun, want 3", len(store.adjud))
	}
}

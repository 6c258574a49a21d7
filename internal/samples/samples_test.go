package samples

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rxfeed/claimflow/internal/pipeline"
)

func TestWriteSampleFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()

	paths, err := WriteSampleFiles(dir)
	if err != nil {
		t.Fatalf("WriteSampleFiles: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("wrote %d files, want 3", len(paths))
	}

	wantRecords := map[string]int{
		"sample_valid_claims.json":   3,
		"sample_invalid_claims.json": 2,
		"sample_valid_claims.csv":    3,
	}

	for _, path := range paths {
		payload, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		records, err := pipeline.DecodeBatch(filepath.Base(path), payload)
		if err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		if want := wantRecords[filepath.Base(path)]; len(records) != want {
			t.Errorf("%s decoded %d records, want %d", filepath.Base(path), len(records), want)
		}
	}
}

func TestCSVPreservesFields(t *testing.T) {
	dir := t.TempDir()

	if _, err := WriteSampleFiles(dir); err != nil {
		t.Fatalf("WriteSampleFiles: %v", err)
	}

	payload, err := os.ReadFile(filepath.Join(dir, "sample_valid_claims.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	records, err := pipeline.DecodeBatch("sample_valid_claims.csv", payload)
	if err != nil {
		t.Fatalf("decode csv: %v", err)
	}

	want := ValidClaims()
	if len(records) != len(want) {
		t.Fatalf("decoded %d records, want %d", len(records), len(want))
	}
	for i := range want {
		if records[i].MemberID != want[i].MemberID {
			t.Errorf("record %d MemberID = %q, want %q", i, records[i].MemberID, want[i].MemberID)
		}
		if records[i].Cost != want[i].Cost {
			t.Errorf("record %d Cost = %q, want %q", i, records[i].Cost, want[i].Cost)
		}
		if records[i].PrescriptionNumber != want[i].PrescriptionNumber {
			t.Errorf("record %d PrescriptionNumber = %q, want %q",
				i, records[i].PrescriptionNumber, want[i].PrescriptionNumber)
		}
	}
}

func TestInvalidSampleCarriesBadIdentifiers(t *testing.T) {
	records := InvalidClaims()
	if records[0].MemberID != "INVALID_MEMBER" {
		t.Errorf("first invalid record MemberID = %q, want INVALID_MEMBER", records[0].MemberID)
	}
	if records[1].NDC != "INVALID-NDC-CODE" {
		t.Errorf("second invalid record NDC = %q, want INVALID-NDC-CODE", records[1].NDC)
	}
}

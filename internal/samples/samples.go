// Package samples writes small claims feed files for local runs and demos.
// The records line up with the seeded reference data, so the valid file
// promotes cleanly and the invalid file exercises rejection handling.
package samples

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rxfeed/claimflow/internal/claim"
)

// ValidClaims returns records that pass validation against the seeded
// reference data.
func ValidClaims() []claim.Record {
	return []claim.Record{
		{
			MemberID:           "M000001",
			NDC:                "00093-0058-01",
			PharmacyNPI:        "1234567890",
			DateFilled:         "2024-03-15",
			Quantity:           "60",
			Cost:               "17.50",
			PrescriptionNumber: "RX123456",
			PrescriberNPI:      "9876543210",
		},
		{
			MemberID:    "M000002",
			NDC:         "00378-0221-05",
			PharmacyNPI: "1234567891",
			DateFilled:  "2024-03-15",
			Quantity:    "30",
			Cost:        "10.25",
		},
		{
			MemberID:    "M000006",
			NDC:         "50458-220-10",
			PharmacyNPI: "1234567897",
			DateFilled:  "2024-03-16",
			Quantity:    "2",
			Cost:        "5495.00",
		},
	}
}

// InvalidClaims returns records that fail reference validation.
func InvalidClaims() []claim.Record {
	return []claim.Record{
		{
			MemberID:    "INVALID_MEMBER",
			NDC:         "00093-0058-01",
			PharmacyNPI: "1234567890",
			DateFilled:  "2024-03-15",
			Quantity:    "60",
			Cost:        "17.50",
		},
		{
			MemberID:    "M000001",
			NDC:         "INVALID-NDC-CODE",
			PharmacyNPI: "1234567890",
			DateFilled:  "2024-03-15",
			Quantity:    "60",
			Cost:        "17.50",
		},
	}
}

// WriteSampleFiles writes the sample feed files into dir and returns their
// paths. An empty dir means the working directory.
func WriteSampleFiles(dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sample dir: %w", err)
	}

	files := []struct {
		name   string
		render func() ([]byte, error)
	}{
		{"sample_valid_claims.json", func() ([]byte, error) { return renderJSON(ValidClaims()) }},
		{"sample_invalid_claims.json", func() ([]byte, error) { return renderJSON(InvalidClaims()) }},
		{"sample_valid_claims.csv", func() ([]byte, error) { return renderCSV(ValidClaims()) }},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		data, err := f.render()
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", f.name, err)
		}
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func renderJSON(records []claim.Record) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

func renderCSV(records []claim.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		claim.FieldMemberID,
		claim.FieldNDC,
		claim.FieldPharmacyNPI,
		claim.FieldDateFilled,
		claim.FieldQuantity,
		claim.FieldCost,
		"prescription_number",
		"prescriber_npi",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		row := []string{
			rec.MemberID,
			rec.NDC,
			rec.PharmacyNPI,
			rec.DateFilled,
			rec.Quantity,
			rec.Cost,
			rec.PrescriptionNumber,
			rec.PrescriberNPI,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

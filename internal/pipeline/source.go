// Package pipeline implements the batch validation and staged-commit flow:
// decode a closed batch file, evaluate every record, stage every disposition,
// promote the records that pass, and commit or roll back the file as one
// unit of work.
package pipeline

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rxfeed/claimflow/internal/claim"
)

// ErrUnsupportedFormat is returned for batch files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported batch file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ReadBatch loads a batch file from disk and decodes it into its ordered
// record sequence.
func ReadBatch(path string) ([]claim.Record, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return DecodeBatch(filepath.Base(path), payload)
}

// SupportedFormat reports whether the file name carries a decodable
// extension. A bare name counts as JSON.
func SupportedFormat(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".json", "", ".csv", ".xlsx":
		return true
	}
	return false
}

// DecodeBatch decodes a batch payload by file extension. JSON is the primary
// feed format; CSV and XLSX feeds decode into the same record shape. A JSON
// payload may be a single record object or an array of records.
func DecodeBatch(fileName string, payload []byte) ([]claim.Record, error) {
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".json", "":
		return decodeJSON(payload)
	case ".csv":
		return decodeCSV(payload)
	case ".xlsx":
		return decodeXLSX(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func decodeJSON(payload []byte) ([]claim.Record, error) {
	trimmed := bytes.TrimPrefix(payload, byteOrderMark)
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, errors.New("empty batch file")
	}

	if trimmed[0] == '[' {
		var records []claim.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode batch array: %w", err)
		}
		return records, nil
	}

	var rec claim.Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("decode batch record: %w", err)
	}
	return []claim.Record{rec}, nil
}

func decodeCSV(payload []byte) ([]claim.Record, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return recordsFromRows(rows)
}

func decodeXLSX(payload []byte) ([]claim.Record, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("xlsx file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	return recordsFromRows(rows)
}

// recordsFromRows maps a header row plus data rows onto claim records. The
// first non-blank row is the header; columns that are not claim fields are
// ignored, and blank rows are skipped.
func recordsFromRows(rows [][]string) ([]claim.Record, error) {
	var headers []string
	records := make([]claim.Record, 0, len(rows))

	for _, row := range rows {
		if blankRow(row) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(row))
			for i, h := range row {
				headers[i] = strings.ToLower(strings.TrimSpace(h))
			}
			continue
		}

		var rec claim.Record
		for i, value := range row {
			if i >= len(headers) {
				break
			}
			setRecordField(&rec, headers[i], strings.TrimSpace(value))
		}
		records = append(records, rec)
	}

	if headers == nil {
		return nil, errors.New("no header row found")
	}
	return records, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func setRecordField(rec *claim.Record, name, value string) {
	switch name {
	case claim.FieldMemberID:
		rec.MemberID = value
	case claim.FieldNDC:
		rec.NDC = value
	case claim.FieldPharmacyNPI:
		rec.PharmacyNPI = value
	case claim.FieldDateFilled:
		rec.DateFilled = value
	case claim.FieldQuantity:
		rec.Quantity = value
	case claim.FieldCost:
		rec.Cost = value
	case "prescription_number":
		rec.PrescriptionNumber = value
	case "date_prescribed":
		rec.DatePrescribed = value
	case "days_supply":
		rec.DaysSupply = value
	case "prescriber_npi":
		rec.PrescriberNPI = value
	}
}

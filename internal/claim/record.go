// Package claim implements the claim record, validation verdict, and domain events.
package claim

import (
	"encoding/json"
	"strings"
)

// Required field names as they appear in feed files.
const (
	FieldMemberID    = "member_id"
	FieldNDC         = "ndc"
	FieldPharmacyNPI = "pharmacy_npi"
	FieldDateFilled  = "date_filled"
	FieldQuantity    = "quantity"
	FieldCost        = "cost"
)

// RequiredFields lists the fields every record must carry, in check order.
var RequiredFields = []string{
	FieldMemberID,
	FieldNDC,
	FieldPharmacyNPI,
	FieldDateFilled,
	FieldQuantity,
	FieldCost,
}

// Record is one dispensing event from a claims feed file. Numeric fields keep
// the feed's textual form; parsing happens during validation. A Record is
// never mutated after decoding.
type Record struct {
	MemberID           string `json:"member_id"`
	NDC                string `json:"ndc"`
	PharmacyNPI        string `json:"pharmacy_npi"`
	DateFilled         string `json:"date_filled"`
	Quantity           string `json:"quantity"`
	Cost               string `json:"cost"`
	PrescriptionNumber string `json:"prescription_number,omitempty"`
	DatePrescribed     string `json:"date_prescribed,omitempty"`
	DaysSupply         string `json:"days_supply,omitempty"`
	PrescriberNPI      string `json:"prescriber_npi,omitempty"`
}

// UnmarshalJSON accepts quantity, cost, and days_supply as either JSON
// strings or JSON numbers; upstream feeds are inconsistent about quoting.
func (r *Record) UnmarshalJSON(data []byte) error {
	var aux struct {
		MemberID           string          `json:"member_id"`
		NDC                string          `json:"ndc"`
		PharmacyNPI        string          `json:"pharmacy_npi"`
		DateFilled         string          `json:"date_filled"`
		Quantity           json.RawMessage `json:"quantity"`
		Cost               json.RawMessage `json:"cost"`
		PrescriptionNumber string          `json:"prescription_number"`
		DatePrescribed     string          `json:"date_prescribed"`
		DaysSupply         json.RawMessage `json:"days_supply"`
		PrescriberNPI      string          `json:"prescriber_npi"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.MemberID = aux.MemberID
	r.NDC = aux.NDC
	r.PharmacyNPI = aux.PharmacyNPI
	r.DateFilled = aux.DateFilled
	r.Quantity = flexibleString(aux.Quantity)
	r.Cost = flexibleString(aux.Cost)
	r.PrescriptionNumber = aux.PrescriptionNumber
	r.DatePrescribed = aux.DatePrescribed
	r.DaysSupply = flexibleString(aux.DaysSupply)
	r.PrescriberNPI = aux.PrescriberNPI
	return nil
}

// Field returns the value of a named required field.
func (r *Record) Field(name string) string {
	switch name {
	case FieldMemberID:
		return r.MemberID
	case FieldNDC:
		return r.NDC
	case FieldPharmacyNPI:
		return r.PharmacyNPI
	case FieldDateFilled:
		return r.DateFilled
	case FieldQuantity:
		return r.Quantity
	case FieldCost:
		return r.Cost
	}
	return ""
}

// Serialize renders the record as the JSON form stored in staging.
func (r *Record) Serialize() ([]byte, error) {
	type plain Record
	return json.Marshal((*plain)(r))
}

// flexibleString renders a JSON string or number literal as text. Anything
// else decodes to its trimmed raw form and is left for validation to reject.
func flexibleString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.TrimSpace(string(raw))
}

// StagingEntry is the durable disposition of one input record. Exactly one
// entry exists per record read from a committed batch, whatever the verdict
// and whatever later happened during promotion.
type StagingEntry struct {
	FileName  string
	Position  int
	RawRecord []byte
	Status    StagingStatus
	Messages  []string
}

// StagingStatus tags a staging entry with the record's verdict.
type StagingStatus string

const (
	StagingValid   StagingStatus = "valid"
	StagingInvalid StagingStatus = "invalid"
)

// AdjudicationRequest carries the resolved keys and claim fields passed to
// the adjudication procedure.
type AdjudicationRequest struct {
	MemberKey          int64
	DrugKey            int64
	PharmacyKey        int64
	PrescriptionNumber string
	DatePrescribed     string
	DateFilled         string
	DaysSupply         int
	Quantity           float64
	PrescriberNPI      string
	IngredientCost     float64
	DispensingFee      float64
}

// AdjudicationResult is the adjudication procedure's outcome for one claim.
type AdjudicationResult struct {
	ClaimID              int64
	Status               string
	Copay                float64
	PlanPaid             float64
	RejectionCode        *string
	RejectionDescription *string
}

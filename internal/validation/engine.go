// Package validation implements the claim rule engine.
//
// The engine produces a Verdict for every record: hard failures land in
// Errors, soft anomalies in Warnings. Verdicts are plain values; the only
// thing that flows as a Go error anywhere in this package is nothing at all.
// Reference lookups that fail are treated as "not found" (fail closed).
package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/claim"
	"github.com/rxfeed/claimflow/internal/refdata"
)

// NDC physical formats accepted on inbound feeds: 5-4-2 (the 11-digit
// billing form the reference data is keyed by), 5-3-2, 5-4-1, and 4-4-2.
var ndcFormats = []*regexp.Regexp{
	regexp.MustCompile(`^\d{5}-\d{4}-\d{2}$`),
	regexp.MustCompile(`^\d{5}-\d{3}-\d{2}$`),
	regexp.MustCompile(`^\d{5}-\d{4}-\d{1}$`),
	regexp.MustCompile(`^\d{4}-\d{4}-\d{2}$`),
}

var npiFormat = regexp.MustCompile(`^\d{10}$`)

const (
	dateLayout = "2006-01-02"

	// Business thresholds for soft anomaly flags.
	maxFillAgeDays    = 365
	highQuantityLimit = 1000
	highCostLimit     = 50000
)

// Engine evaluates claim records against the validation rule set.
type Engine struct {
	lookup refdata.Lookup
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a rule engine backed by the given reference lookup.
func NewEngine(lookup refdata.Lookup, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{lookup: lookup, logger: logger, now: time.Now}
}

// Evaluate runs the full rule set against one record. Missing required
// fields stop evaluation immediately; every later rule would be meaningless
// without them. Once presence passes, each remaining rule runs and appends
// its finding independently, so the verdict carries the complete problem
// list rather than the first failure.
func (e *Engine) Evaluate(ctx context.Context, rec *claim.Record) claim.Verdict {
	var v claim.Verdict

	for _, field := range claim.RequiredFields {
		if rec.Field(field) == "" {
			v.Errors = append(v.Errors, fmt.Sprintf("Missing required field: %s", field))
		}
	}
	if len(v.Errors) > 0 {
		return v
	}

	if !e.memberActive(ctx, rec.MemberID) {
		v.Errors = append(v.Errors, fmt.Sprintf("Invalid or inactive member ID: %s", rec.MemberID))
	}

	if !e.drugKnown(ctx, rec.NDC) {
		v.Errors = append(v.Errors, fmt.Sprintf("Invalid NDC code: %s", rec.NDC))
	}

	if !e.pharmacyEligible(ctx, rec.PharmacyNPI) {
		v.Errors = append(v.Errors, fmt.Sprintf("Invalid or out-of-network pharmacy NPI: %s", rec.PharmacyNPI))
	}

	e.checkFillDate(rec.DateFilled, &v)
	e.checkQuantity(rec.Quantity, &v)
	e.checkCost(rec.Cost, &v)

	return v
}

// memberActive reports whether the member resolves with active eligibility.
func (e *Engine) memberActive(ctx context.Context, memberID string) bool {
	active, err := e.lookup.MemberIsActive(ctx, memberID)
	if err != nil {
		e.logger.Warn("member lookup failed",
			zap.String("member_id", memberID),
			zap.Error(err))
		return false
	}
	return active
}

// drugKnown checks the NDC format and, only when the format holds, its
// presence in the drug reference.
func (e *Engine) drugKnown(ctx context.Context, ndc string) bool {
	formatOK := false
	for _, pattern := range ndcFormats {
		if pattern.MatchString(ndc) {
			formatOK = true
			break
		}
	}
	if !formatOK {
		return false
	}

	exists, err := e.lookup.DrugExists(ctx, ndc)
	if err != nil {
		e.logger.Warn("drug lookup failed",
			zap.String("ndc", ndc),
			zap.Error(err))
		return false
	}
	return exists
}

// pharmacyEligible checks the NPI shape and, only when it holds, the
// pharmacy's network participation.
func (e *Engine) pharmacyEligible(ctx context.Context, npi string) bool {
	if !npiFormat.MatchString(npi) {
		return false
	}

	inNetwork, err := e.lookup.PharmacyInNetwork(ctx, npi)
	if err != nil {
		e.logger.Warn("pharmacy lookup failed",
			zap.String("npi", npi),
			zap.Error(err))
		return false
	}
	return inNetwork
}

func (e *Engine) checkFillDate(value string, v *claim.Verdict) {
	fillDate, err := time.Parse(dateLayout, value)
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("Invalid date format: %s", value))
		return
	}

	now := e.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if fillDate.After(today) {
		v.Errors = append(v.Errors, "Fill date cannot be in the future")
	} else if fillDate.Before(today.AddDate(0, 0, -maxFillAgeDays)) {
		v.Warnings = append(v.Warnings, "Fill date is more than 1 year old")
	}
}

func (e *Engine) checkQuantity(value string, v *claim.Verdict) {
	quantity, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("Invalid quantity: %s", value))
		return
	}

	if quantity <= 0 {
		v.Errors = append(v.Errors, "Quantity must be positive")
	} else if quantity > highQuantityLimit {
		v.Warnings = append(v.Warnings, "Unusually high quantity dispensed")
	}
}

func (e *Engine) checkCost(value string, v *claim.Verdict) {
	cost, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("Invalid cost: %s", value))
		return
	}

	if cost < 0 {
		v.Errors = append(v.Errors, "Cost cannot be negative")
	} else if cost > highCostLimit {
		v.Warnings = append(v.Warnings, "Unusually high cost - potential specialty drug")
	}
}

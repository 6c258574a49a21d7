package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rxfeed/claimflow/internal/claim"
	"github.com/rxfeed/claimflow/internal/refdata"
)

// PromotionPolicy holds the fallback keys and pricing split applied when a
// record omits optional fields or a key lookup misses. The defaults mirror
// the upstream feed conventions; none of them is a signed-off business rule,
// so deployments override them in configuration.
type PromotionPolicy struct {
	DefaultMemberKey   int64
	DefaultDrugKey     int64
	DefaultPharmacyKey int64
	DefaultDaysSupply  int
	SentinelPrescriber string
	// IngredientShare is the fraction of the record cost booked as
	// ingredient cost; the remainder becomes the dispensing fee.
	IngredientShare float64
}

// DefaultPromotionPolicy returns the upstream feed defaults.
func DefaultPromotionPolicy() PromotionPolicy {
	return PromotionPolicy{
		DefaultMemberKey:   1,
		DefaultDrugKey:     1,
		DefaultPharmacyKey: 1,
		DefaultDaysSupply:  30,
		SentinelPrescriber: "9999999999",
		IngredientShare:    0.9,
	}
}

// Promoter forwards validated records to the adjudication procedure.
type Promoter struct {
	lookup refdata.Lookup
	policy PromotionPolicy
	logger *zap.Logger
	now    func() time.Time
}

// NewPromoter creates a promotion step backed by the given reference lookup.
func NewPromoter(lookup refdata.Lookup, policy PromotionPolicy, logger *zap.Logger) *Promoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{lookup: lookup, policy: policy, logger: logger, now: time.Now}
}

// Promote resolves the record's reference keys, invokes adjudication inside
// the batch transaction, and appends the promoted-claim event. Any failure
// here propagates to the per-record boundary; the record's staging entry is
// already written and survives.
func (p *Promoter) Promote(ctx context.Context, tx BatchTx, batchID, fileName string, position int, rec *claim.Record) (*claim.AdjudicationResult, error) {
	req, err := p.buildRequest(ctx, rec)
	if err != nil {
		return nil, err
	}

	result, err := tx.Adjudicate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("adjudicate claim: %w", err)
	}

	p.logger.Info("claim processed",
		zap.Int64("claim_id", result.ClaimID),
		zap.String("status", result.Status))

	data := claim.ClaimPromotedData{
		FileName:    fileName,
		Position:    position,
		MemberKey:   req.MemberKey,
		DrugKey:     req.DrugKey,
		PharmacyKey: req.PharmacyKey,
		ClaimID:     result.ClaimID,
		Status:      result.Status,
		Copay:       result.Copay,
		PlanPaid:    result.PlanPaid,
		PromotedAt:  p.now().UTC(),
	}
	if result.RejectionCode != nil {
		data.RejectionCode = *result.RejectionCode
	}

	event, err := claim.NewEvent(batchID, claim.EventClaimPromoted, data)
	if err != nil {
		return nil, fmt.Errorf("build promoted event: %w", err)
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("append promoted event: %w", err)
	}

	return result, nil
}

// buildRequest maps the record's external identifiers and fields onto the
// adjudication procedure's arguments, applying the policy defaults for
// whatever is absent.
func (p *Promoter) buildRequest(ctx context.Context, rec *claim.Record) (*claim.AdjudicationRequest, error) {
	memberKey := refdata.MemberKey(rec.MemberID, p.policy.DefaultMemberKey)

	drugKey := p.policy.DefaultDrugKey
	if key, found, err := p.lookup.DrugKey(ctx, rec.NDC); err != nil {
		return nil, fmt.Errorf("resolve drug key: %w", err)
	} else if found {
		drugKey = key
	}

	pharmacyKey := p.policy.DefaultPharmacyKey
	if key, found, err := p.lookup.PharmacyKey(ctx, rec.PharmacyNPI); err != nil {
		return nil, fmt.Errorf("resolve pharmacy key: %w", err)
	} else if found {
		pharmacyKey = key
	}

	quantity, err := strconv.ParseFloat(strings.TrimSpace(rec.Quantity), 64)
	if err != nil {
		return nil, fmt.Errorf("parse quantity %q: %w", rec.Quantity, err)
	}
	cost, err := strconv.ParseFloat(strings.TrimSpace(rec.Cost), 64)
	if err != nil {
		return nil, fmt.Errorf("parse cost %q: %w", rec.Cost, err)
	}

	rxNumber := rec.PrescriptionNumber
	if rxNumber == "" {
		rxNumber = fmt.Sprintf("ETL-%s-%d", p.now().Format("20060102"), memberKey)
	}

	datePrescribed := rec.DatePrescribed
	if datePrescribed == "" {
		datePrescribed = rec.DateFilled
	}

	daysSupply := p.policy.DefaultDaysSupply
	if rec.DaysSupply != "" {
		n, err := strconv.Atoi(strings.TrimSpace(rec.DaysSupply))
		if err != nil {
			return nil, fmt.Errorf("parse days supply %q: %w", rec.DaysSupply, err)
		}
		daysSupply = n
	}

	prescriber := rec.PrescriberNPI
	if prescriber == "" {
		prescriber = p.policy.SentinelPrescriber
	}

	ingredientCost := cost * p.policy.IngredientShare

	return &claim.AdjudicationRequest{
		MemberKey:          memberKey,
		DrugKey:            drugKey,
		PharmacyKey:        pharmacyKey,
		PrescriptionNumber: rxNumber,
		DatePrescribed:     datePrescribed,
		DateFilled:         rec.DateFilled,
		DaysSupply:         daysSupply,
		Quantity:           quantity,
		PrescriberNPI:      prescriber,
		IngredientCost:     ingredientCost,
		DispensingFee:      cost - ingredientCost,
	}, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// MemberIsActive reports whether the member exists with active eligibility.
// A missing member is a definitive negative, not an error; the rule engine
// treats real errors as negatives too (fail closed).
func (s *Store) MemberIsActive(ctx context.Context, memberID string) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT eligibility_status FROM members WHERE member_id = $1`,
		memberID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("member lookup: %w", err)
	}
	return status == "active", nil
}

// DrugExists reports whether the NDC is present in the drug reference.
func (s *Store) DrugExists(ctx context.Context, ndc string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM drugs WHERE ndc_code = $1`,
		ndc,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("drug lookup: %w", err)
	}
	return true, nil
}

// PharmacyInNetwork reports whether the pharmacy exists and its network
// flag is set. A NULL flag counts as out of network.
func (s *Store) PharmacyInNetwork(ctx context.Context, npi string) (bool, error) {
	var inNetwork pgtype.Bool
	err := s.pool.QueryRow(ctx,
		`SELECT pbm_network FROM pharmacies WHERE npi = $1`,
		npi,
	).Scan(&inNetwork)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pharmacy lookup: %w", err)
	}
	return inNetwork.Valid && inNetwork.Bool, nil
}

// DrugKey resolves an NDC to its internal key.
func (s *Store) DrugKey(ctx context.Context, ndc string) (int64, bool, error) {
	var key int64
	err := s.pool.QueryRow(ctx,
		`SELECT drug_id FROM drugs WHERE ndc_code = $1`,
		ndc,
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("drug key lookup: %w", err)
	}
	return key, true, nil
}

// PharmacyKey resolves a pharmacy NPI to its internal key.
func (s *Store) PharmacyKey(ctx context.Context, npi string) (int64, bool, error) {
	var key int64
	err := s.pool.QueryRow(ctx,
		`SELECT pharmacy_id FROM pharmacies WHERE npi = $1`,
		npi,
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pharmacy key lookup: %w", err)
	}
	return key, true, nil
}

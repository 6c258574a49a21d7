// Package refdata declares the reference-data lookups the pipeline consumes.
package refdata

import "context"

// Lookup resolves external claim identifiers against the reference store.
// Implementations must treat their own failures as authoritative: the rule
// engine interprets any error as "not found" (fail closed), and the promotion
// step propagates it.
type Lookup interface {
	// MemberIsActive reports whether the member exists with active eligibility.
	MemberIsActive(ctx context.Context, memberID string) (bool, error)

	// DrugExists reports whether the NDC is present in the drug reference.
	DrugExists(ctx context.Context, ndc string) (bool, error)

	// PharmacyInNetwork reports whether the pharmacy exists and participates
	// in the network.
	PharmacyInNetwork(ctx context.Context, npi string) (bool, error)

	// DrugKey resolves an NDC to its internal key. found is false on a miss.
	DrugKey(ctx context.Context, ndc string) (key int64, found bool, err error)

	// PharmacyKey resolves a pharmacy NPI to its internal key.
	PharmacyKey(ctx context.Context, npi string) (key int64, found bool, err error)
}

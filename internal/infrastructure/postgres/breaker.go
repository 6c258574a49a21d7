package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rxfeed/claimflow/pkg/circuitbreaker"
)

// AdjudicationBreakerConfig returns a breaker configuration for the
// process_claim path. Only connectivity-class failures count against the
// circuit; a record with bad data must not open it.
func AdjudicationBreakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig("adjudication")
	cfg.IsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}
		return !isConnectivityError(err)
	}
	return cfg
}

// isConnectivityError classifies errors that indicate the database itself is
// unhealthy rather than the record being adjudicated. SQLSTATE classes:
// 08 connection exception, 53 insufficient resources, 57 operator
// intervention, 58 system error.
func isConnectivityError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08", "53", "57", "58":
			return true
		}
		return false
	}

	// Anything that never reached the server: dial failures, closed pools.
	return true
}

package wallet

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// Repository defines the data access contract for the ledger.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Apply inserts entry and moves the user's balance by entry.Delta in one
	// transaction. A correlation id that already exists is not an error:
	// nothing is written and duplicate is true. When guard is set and the
	// resulting balance would be negative, nothing is written and
	// ErrInsufficientFunds is returned with the current balance.
	Apply(ctx context.Context, entry *domain.LedgerEntry, guard bool) (balance int64, duplicate bool, err error)

	// Balance returns the materialized balance, zero for unknown users.
	Balance(ctx context.Context, userID string) (int64, error)

	// Entries returns the newest entries first.
	Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error)
}

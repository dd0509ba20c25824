package domain

import (
	"encoding/json"
	"time"
)

// LedgerKind classifies a credit ledger entry.
type LedgerKind string

const (
	LedgerPurchase LedgerKind = "purchase"
	LedgerDebit    LedgerKind = "debit"
	LedgerRefund   LedgerKind = "refund"
)

// Valid reports whether k is a known ledger kind.
func (k LedgerKind) Valid() bool {
	switch k {
	case LedgerPurchase, LedgerDebit, LedgerRefund:
		return true
	}
	return false
}

// Wallet is the materialized balance for a user. It is only ever changed in
// the same transaction as a ledger insert.
type Wallet struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one append-only, signed credit movement.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Delta         int64           `json:"delta" db:"delta"`
	Kind          LedgerKind      `json:"kind" db:"kind"`
	CorrelationID string          `json:"correlation_id" db:"correlation_id"`
	Note          string          `json:"note,omitempty" db:"note"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

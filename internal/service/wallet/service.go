package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/metrics"
)

// Service is the only writer of credit balances.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a wallet service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// DebitOption customizes a debit.
type DebitOption func(*debitOptions)

type debitOptions struct {
	allowOverdraft bool
}

// AllowOverdraft records the debit even if it takes the balance negative.
// Used when the paid work has already happened.
func AllowOverdraft() DebitOption {
	return func(o *debitOptions) { o.allowOverdraft = true }
}

// Debit removes amount credits. By default the debit is refused with
// InsufficientCreditsError when the balance cannot cover it.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, correlationID, note string, metadata map[string]any, opts ...DebitOption) (int64, error) {
	var o debitOptions
	for _, fn := range opts {
		fn(&o)
	}
	return s.apply(ctx, userID, -amount, domain.LedgerDebit, correlationID, note, metadata, !o.allowOverdraft)
}

// Credit adds amount credits as a purchase or refund.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, kind domain.LedgerKind, correlationID, note string, metadata map[string]any) (int64, error) {
	if kind != domain.LedgerPurchase && kind != domain.LedgerRefund {
		return 0, domain.Validation("credit kind must be purchase or refund")
	}
	return s.apply(ctx, userID, amount, kind, correlationID, note, metadata, false)
}

func (s *Service) apply(ctx context.Context, userID string, delta int64, kind domain.LedgerKind, correlationID, note string, metadata map[string]any, guard bool) (int64, error) {
	if userID == "" {
		return 0, domain.ErrUnauthorized
	}
	if correlationID == "" {
		return 0, domain.Validation("correlation id is required")
	}
	if delta == 0 || (kind == domain.LedgerDebit) != (delta < 0) {
		return 0, domain.Validation("amount must be positive")
	}

	var meta json.RawMessage
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return 0, domain.Validation("metadata: %v", err)
		}
		meta = b
	}

	entry := &domain.LedgerEntry{
		ID:            uuid.New().String(),
		UserID:        userID,
		Delta:         delta,
		Kind:          kind,
		CorrelationID: correlationID,
		Note:          note,
		Metadata:      meta,
		CreatedAt:     s.now().UTC(),
	}

	balance, duplicate, err := s.repo.Apply(ctx, entry, guard)
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return balance, &domain.InsufficientCreditsError{Required: -delta, Balance: balance}
	case err != nil:
		return 0, &domain.PersistenceError{Op: "ledger " + string(kind), Err: err}
	}

	metrics.LedgerEntries.WithLabelValues(string(kind), strconv.FormatBool(duplicate)).Inc()
	if duplicate {
		logger.Debug("ledger replay ignored", "user_id", userID, "correlation", correlationID, "kind", kind)
	} else {
		logger.Info("ledger entry", "user_id", userID, "kind", kind, "delta", delta, "balance", balance)
	}
	return balance, nil
}

// Balance returns the user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	b, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "wallet balance", Err: err}
	}
	return b, nil
}

// Require is the optimistic pre-check before paid work. It does not reserve
// anything; the guarded Debit is the authoritative check.
func (s *Service) Require(ctx context.Context, userID string, cost int64) (int64, error) {
	b, err := s.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if b < cost {
		return b, &domain.InsufficientCreditsError{Required: cost, Balance: b}
	}
	return b, nil
}

// Entries lists recent ledger rows, newest first. limit is clamped to [1, 500].
func (s *Service) Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	entries, err := s.repo.Entries(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger entries: %w", err)
	}
	return entries, nil
}

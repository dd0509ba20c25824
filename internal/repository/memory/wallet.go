package memory

import (
	"context"
	"sort"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/wallet"
)

// WalletRepo implements wallet.Repository.
type WalletRepo struct{ s *Store }

var _ wallet.Repository = (*WalletRepo)(nil)

func (r *WalletRepo) Apply(_ context.Context, e *domain.LedgerEntry, guard bool) (int64, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	balance := r.s.wallets[e.UserID]
	if r.s.byCorr[e.CorrelationID] {
		return balance, true, nil
	}
	if guard && balance+e.Delta < 0 {
		return balance, false, wallet.ErrInsufficientFunds
	}
	r.s.byCorr[e.CorrelationID] = true
	r.s.ledger = append(r.s.ledger, *e)
	r.s.wallets[e.UserID] = balance + e.Delta
	return balance + e.Delta, false, nil
}

func (r *WalletRepo) Balance(_ context.Context, userID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.wallets[userID], nil
}

func (r *WalletRepo) Entries(_ context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(r.s.ledger) - 1; i >= 0; i-- {
		if r.s.ledger[i].UserID == userID {
			out = append(out, r.s.ledger[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

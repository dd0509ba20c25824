package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/wallet"
)

// WalletRepo implements wallet.Repository. The ledger insert and the
// balance move share one transaction.
type WalletRepo struct{ db *sql.DB }

var _ wallet.Repository = (*WalletRepo)(nil)

// NewWalletRepo creates a Postgres-backed ledger repository.
func NewWalletRepo(db *sql.DB) *WalletRepo { return &WalletRepo{db: db} }

func (r *WalletRepo) Apply(ctx context.Context, e *domain.LedgerEntry, guard bool) (balance int64, duplicate bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var meta any
	if len(e.Metadata) > 0 {
		meta = []byte(e.Metadata)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, user_id, delta, kind, correlation_id, note, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (correlation_id) DO NOTHING
	`, e.ID, e.UserID, e.Delta, e.Kind, e.CorrelationID, nullString(e.Note), meta, e.CreatedAt)
	if err != nil {
		return 0, false, fmt.Errorf("insert ledger entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		balance, err = balanceOf(ctx, tx, e.UserID)
		if err != nil {
			return 0, false, err
		}
		return balance, true, tx.Commit()
	}

	if guard && e.Delta < 0 {
		err = tx.QueryRowContext(ctx, `
			UPDATE wallets SET balance = balance + $2, updated_at = $3
			WHERE user_id = $1 AND balance + $2 >= 0
			RETURNING balance
		`, e.UserID, e.Delta, e.CreatedAt).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			current, berr := balanceOf(ctx, tx, e.UserID)
			if berr != nil {
				return 0, false, berr
			}
			return current, false, wallet.ErrInsufficientFunds
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO wallets (user_id, balance, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET balance = wallets.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
			RETURNING balance
		`, e.UserID, e.Delta, e.CreatedAt).Scan(&balance)
	}
	if err != nil {
		return 0, false, fmt.Errorf("move balance: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit ledger tx: %w", err)
	}
	return balance, false, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balanceOf(ctx context.Context, q queryRower, userID string) (int64, error) {
	var b int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT balance FROM wallets WHERE user_id = $1), 0)`, userID,
	).Scan(&b)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return b, nil
}

func (r *WalletRepo) Balance(ctx context.Context, userID string) (int64, error) {
	return balanceOf(ctx, r.db, userID)
}

func (r *WalletRepo) Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, delta, kind, correlation_id, COALESCE(note, ''), metadata, created_at
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e    domain.LedgerEntry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Kind, &e.CorrelationID, &e.Note, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if len(meta) > 0 {
			e.Metadata = meta
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/oauth"
)

// ErrStateCollision is returned when a generated OAuth state already exists.
var ErrStateCollision = errors.New("oauth state already exists")

// ConnectionRepo implements oauth.Repository.
type ConnectionRepo struct{ db *sql.DB }

var _ oauth.Repository = (*ConnectionRepo)(nil)

// NewConnectionRepo creates a Postgres-backed connection repository.
func NewConnectionRepo(db *sql.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

func (r *ConnectionRepo) PruneStates(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune oauth states: %w", err)
	}
	return res.RowsAffected()
}

func (r *ConnectionRepo) SaveState(ctx context.Context, st *domain.OAuthState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, user_id, provider, created_at) VALUES ($1, $2, $3, $4)`,
		st.State, st.UserID, st.Provider, st.CreatedAt)
	if isUniqueViolation(err) {
		return ErrStateCollision
	}
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// ConsumeState deletes and returns in one statement; a second caller with the
// same state finds nothing.
func (r *ConnectionRepo) ConsumeState(ctx context.Context, state string) (*domain.OAuthState, error) {
	st := &domain.OAuthState{State: state}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM oauth_states WHERE state = $1 RETURNING user_id, provider, created_at`, state,
	).Scan(&st.UserID, &st.Provider, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	return st, nil
}

func (r *ConnectionRepo) GetAccount(ctx context.Context, userID string, p domain.Provider) (*domain.SocialAccount, error) {
	a := &domain.SocialAccount{UserID: userID, Provider: p}
	var (
		name, refresh, page sql.NullString
		expires             sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT external_id, display_name, access_token, refresh_token, expires_at,
		       scopes, selected_page_id, created_at, updated_at
		FROM social_accounts
		WHERE user_id = $1 AND provider = $2
	`, userID, p).Scan(&a.ExternalID, &name, &a.AccessToken, &refresh, &expires,
		pq.Array(&a.Scopes), &page, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get social account: %w", err)
	}
	a.DisplayName = name.String
	a.RefreshToken = refresh.String
	a.SelectedPageID = page.String
	a.ExpiresAt = timePtr(expires)
	return a, nil
}

// UpsertAccount keeps the original created_at on reconnect.
func (r *ConnectionRepo) UpsertAccount(ctx context.Context, a *domain.SocialAccount) error {
	var expires any
	if a.ExpiresAt != nil {
		expires = *a.ExpiresAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO social_accounts
			(user_id, provider, external_id, display_name, access_token, refresh_token,
			 expires_at, scopes, selected_page_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			display_name = EXCLUDED.display_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			selected_page_id = EXCLUDED.selected_page_id,
			updated_at = EXCLUDED.updated_at
	`, a.UserID, a.Provider, a.ExternalID, nullString(a.DisplayName), a.AccessToken, nullString(a.RefreshToken),
		expires, pq.Array(a.Scopes), nullString(a.SelectedPageID), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert social account: %w", err)
	}
	return nil
}

func (r *ConnectionRepo) DeleteAccount(ctx context.Context, userID string, p domain.Provider) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM social_accounts WHERE user_id = $1 AND provider = $2`, userID, p); err != nil {
		return fmt.Errorf("delete social account: %w", err)
	}
	return nil
}

func (r *ConnectionRepo) SetSelectedPage(ctx context.Context, userID string, p domain.Provider, pageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE social_accounts SET selected_page_id = $3, updated_at = NOW()
		WHERE user_id = $1 AND provider = $2
	`, userID, p, pageID)
	if err != nil {
		return fmt.Errorf("select page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ConnectionRepo) ChangesUsed(ctx context.Context, userID string, p domain.Provider) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT changes_used FROM connection_usage WHERE user_id = $1 AND provider = $2), 0)
	`, userID, p).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("read changes used: %w", err)
	}
	return n, nil
}

// ConsumeChange is a conditional upsert: the increment only happens while
// changes_used is below limit, so concurrent callers cannot overshoot.
func (r *ConnectionRepo) ConsumeChange(ctx context.Context, userID string, p domain.Provider, limit int) (bool, error) {
	var used int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO connection_usage (user_id, provider, changes_used)
		SELECT $1, $2, 1 WHERE $3 > 0
		ON CONFLICT (user_id, provider) DO UPDATE
		SET changes_used = connection_usage.changes_used + 1
		WHERE connection_usage.changes_used < $3
		RETURNING changes_used
	`, userID, p, limit).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume change: %w", err)
	}
	return true, nil
}

func (r *ConnectionRepo) RefundChange(ctx context.Context, userID string, p domain.Provider) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE connection_usage SET changes_used = changes_used - 1
		WHERE user_id = $1 AND provider = $2 AND changes_used > 0
	`, userID, p)
	if err != nil {
		return fmt.Errorf("refund change: %w", err)
	}
	return nil
}

package oauth

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// Repository persists states, accounts and change usage.
type Repository interface {
	// PruneStates deletes states created before cutoff.
	PruneStates(ctx context.Context, cutoff time.Time) (int64, error)
	SaveState(ctx context.Context, st *domain.OAuthState) error
	// ConsumeState atomically deletes and returns the row, or
	// domain.ErrNotFound when it does not exist.
	ConsumeState(ctx context.Context, state string) (*domain.OAuthState, error)

	GetAccount(ctx context.Context, userID string, p domain.Provider) (*domain.SocialAccount, error)
	UpsertAccount(ctx context.Context, a *domain.SocialAccount) error
	DeleteAccount(ctx context.Context, userID string, p domain.Provider) error
	SetSelectedPage(ctx context.Context, userID string, p domain.Provider, pageID string) error

	ChangesUsed(ctx context.Context, userID string, p domain.Provider) (int, error)
	// ConsumeChange increments changes_used only while it is below limit and
	// reports whether it did.
	ConsumeChange(ctx context.Context, userID string, p domain.Provider, limit int) (bool, error)
	// RefundChange gives back one consumed change; it never goes below zero.
	RefundChange(ctx context.Context, userID string, p domain.Provider) error
}

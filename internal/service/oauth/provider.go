package oauth

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// Token is what a provider returns from the code exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// Identity is the provider-side account a token belongs to.
type Identity struct {
	ExternalID string
	Name       string
}

// Provider is one OAuth platform.
type Provider interface {
	Name() domain.Provider
	// AuthCodeURL returns the consent URL carrying state and the scopes.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for a usable (long-lived where
	// the platform supports it) token.
	Exchange(ctx context.Context, code string) (*Token, error)
	Identity(ctx context.Context, accessToken string) (*Identity, error)
	Revoke(ctx context.Context, accessToken string) error
}

// PageLister is implemented by providers that publish through pages.
type PageLister interface {
	Pages(ctx context.Context, accessToken string) ([]domain.Page, error)
}

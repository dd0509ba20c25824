package domain

import "time"

// Provider identifies an OAuth-connected social platform.
type Provider string

const (
	ProviderFacebook Provider = "facebook"
	ProviderLinkedIn Provider = "linkedin"
)

// ParseProvider validates a provider name taken from a URL path.
func ParseProvider(s string) (Provider, bool) {
	switch p := Provider(s); p {
	case ProviderFacebook, ProviderLinkedIn:
		return p, true
	}
	return "", false
}

// SocialAccount is a user's connection to a provider. Token fields are
// write-only and never serialized.
type SocialAccount struct {
	UserID         string     `json:"user_id" db:"user_id"`
	Provider       Provider   `json:"provider" db:"provider"`
	ExternalID     string     `json:"external_id" db:"external_id"`
	DisplayName    string     `json:"name,omitempty" db:"display_name"`
	AccessToken    string     `json:"-" db:"access_token"`
	RefreshToken   string     `json:"-" db:"refresh_token"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Scopes         []string   `json:"scopes" db:"scopes"`
	SelectedPageID string     `json:"selected_page_id,omitempty" db:"selected_page_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// TokenExpired reports whether the stored access token is past its expiry.
func (a *SocialAccount) TokenExpired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// OAuthState links a provider redirect back to the user who started it.
// Rows are consumed exactly once.
type OAuthState struct {
	State     string    `json:"-" db:"state"`
	UserID    string    `json:"user_id" db:"user_id"`
	Provider  Provider  `json:"provider" db:"provider"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ConnectionUsage counts identity switches and disconnects per provider.
type ConnectionUsage struct {
	UserID      string   `json:"user_id" db:"user_id"`
	Provider    Provider `json:"provider" db:"provider"`
	ChangesUsed int      `json:"changes_used" db:"changes_used"`
}

// ConnectionStatus is the token-free view of a provider connection.
type ConnectionStatus struct {
	Provider         Provider   `json:"provider"`
	Connected        bool       `json:"connected"`
	ExternalID       string     `json:"external_id,omitempty"`
	Name             string     `json:"name,omitempty"`
	Scopes           []string   `json:"scopes,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ChangesUsed      int        `json:"changes_used"`
	ChangesRemaining int        `json:"changes_remaining"`
	SelectedPageID   string     `json:"selected_page_id,omitempty"`
}

// Page is a Facebook page the connected user can publish to.
type Page struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// Post is the provider-neutral content of a social publish request.
type Post struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
	Target   string `json:"target,omitempty"`
}

// PublishResult is what a provider returns for a created post.
type PublishResult struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink,omitempty"`
}

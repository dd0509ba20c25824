package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
	CampaignFailed  CampaignStatus = "failed"
)

// CanTransition reports whether a campaign may move from s to next.
// Campaigns only move forward: draft → sending → {sent, failed}.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	switch s {
	case CampaignDraft:
		return next == CampaignSending
	case CampaignSending:
		return next == CampaignSent || next == CampaignFailed
	default:
		return false
	}
}

// Campaign is an email campaign owned by a single user (tenant).
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	UserID          string         `json:"user_id" db:"user_id"`
	Name            string         `json:"name" db:"name"`
	Subject         string         `json:"subject" db:"subject"`
	HTMLContent     string         `json:"html" db:"html_content"`
	FromEmail       string         `json:"from_email" db:"from_email"`
	FromName        string         `json:"from_name" db:"from_name"`
	Status          CampaignStatus `json:"status" db:"status"`
	PricePerEmail   int64          `json:"price_per_email" db:"price_per_email"`
	RecipientsCount int            `json:"recipients_count" db:"recipients_count"`
	CreditsCharged  int64          `json:"credits_charged" db:"credits_charged"`

	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed
}

// CampaignStats aggregates recipient outcomes for a campaign.
type CampaignStats struct {
	CampaignID   string                  `json:"campaign_id"`
	ByStatus     map[RecipientStatus]int `json:"by_status"`
	Opens        int                     `json:"opens"`
	UniqueOpens  int                     `json:"unique_opens"`
	Clicks       int                     `json:"clicks"`
	UniqueClicks int                     `json:"unique_clicks"`
}

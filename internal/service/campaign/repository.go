package campaign

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// Repository defines the data access contract for campaigns and their
// recipient queue. Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new campaign.
	Create(ctx context.Context, c *domain.Campaign) error

	// Get returns a campaign owned by userID, or domain.ErrNotFound.
	Get(ctx context.Context, userID, id string) (*domain.Campaign, error)

	// TransitionStatus moves the campaign from one status to another only if
	// it is currently in from. Reports whether the row changed.
	TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error)

	// AddCreditsCharged adjusts credits_charged by delta.
	AddCreditsCharged(ctx context.Context, id string, delta int64) error

	// AddRecipients inserts queued recipients, skipping addresses already on
	// the campaign, and bumps recipients_count. Returns the number inserted.
	AddRecipients(ctx context.Context, campaignID string, rs []domain.Recipient) (int, error)

	// ClaimQueued atomically moves up to limit recipients to claimed and
	// returns them. Rows claimed before staleBefore count as queued again.
	// Concurrent callers never receive the same row.
	ClaimQueued(ctx context.Context, campaignID string, limit int, staleBefore, now time.Time) ([]domain.Recipient, error)

	// PeekQueued returns up to limit queued recipients without changing them.
	PeekQueued(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error)

	// ReleaseClaims returns claimed recipients to queued.
	ReleaseClaims(ctx context.Context, ids []string) error

	// SetTrackingToken fills in a missing token.
	SetTrackingToken(ctx context.Context, recipientID, token string) error

	// MarkSent records a provider acceptance on a claimed recipient.
	MarkSent(ctx context.Context, recipientID, messageID string, at time.Time) error

	// MarkFailed records a send failure on a claimed recipient.
	MarkFailed(ctx context.Context, recipientID, reason string, at time.Time) error

	// Progress counts outstanding and ever-sent recipients.
	Progress(ctx context.Context, campaignID string) (Progress, error)

	// Stats aggregates recipient outcomes.
	Stats(ctx context.Context, campaignID string) (*domain.CampaignStats, error)
}

// Progress summarizes a campaign's queue.
type Progress struct {
	// Pending is the number of queued or claimed recipients.
	Pending int
	// Sent is the number of recipients a provider ever accepted.
	Sent int
}

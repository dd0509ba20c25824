package delivery

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// Repository is the recipient access the reconciler needs. Find methods
// return domain.ErrNotFound when nothing matches.
type Repository interface {
	FindByMessageID(ctx context.Context, messageID string) (*domain.Recipient, error)
	FindByToken(ctx context.Context, campaignID, token string) (*domain.Recipient, error)
	// FindLatestByEmail returns the most recently sent recipient row for the
	// address across all campaigns.
	FindLatestByEmail(ctx context.Context, email string) (*domain.Recipient, error)

	// ApplyDelivery always stamps last_event_at. When the current status is in
	// allowedFrom it also sets the status for kind and the matching
	// set-once timestamp, and records detail as last_error for bounces and
	// complaints. Reports whether the status guard passed.
	ApplyDelivery(ctx context.Context, recipientID string, kind domain.DeliveryKind, allowedFrom []domain.RecipientStatus, detail string, at time.Time) (applied bool, err error)
}

// Package sending defines the contract between the campaign sender and the
// email providers.
//
// Each provider (SES, the Resend-style HTTP API) implements Sender. The
// campaign service stays provider-agnostic and only sees this interface.
package sending

import (
	"context"

	"github.com/ignite/outreach/internal/domain"
)

// Sender delivers one fully rendered message. Implementations must be safe
// for concurrent use and must attach the campaign id and tracking token to
// the message as provider tags so delivery webhooks can fall back to them.
type Sender interface {
	// Name is the provider label used in logs and metrics.
	Name() string
	// Send returns the provider-assigned message id.
	Send(ctx context.Context, msg *domain.OutboundEmail) (messageID string, err error)
}

// Tag names carried on every outbound message.
const (
	TagCampaignID    = "campaign_id"
	TagTrackingToken = "tracking_token"
)

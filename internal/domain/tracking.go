package domain

import "time"

// DeliveryKind is the normalized outcome reported by an email provider.
type DeliveryKind string

const (
	DeliveryDelivered  DeliveryKind = "delivered"
	DeliveryBounced    DeliveryKind = "bounced"
	DeliveryComplained DeliveryKind = "complained"
)

// RecipientStatus maps the delivery outcome onto the recipient lifecycle.
func (k DeliveryKind) RecipientStatus() RecipientStatus {
	switch k {
	case DeliveryDelivered:
		return RecipientDelivered
	case DeliveryBounced:
		return RecipientBounced
	case DeliveryComplained:
		return RecipientComplained
	}
	return ""
}

// Valid reports whether k is one of the known delivery kinds.
func (k DeliveryKind) Valid() bool {
	return k.RecipientStatus() != ""
}

// DeliveryEvent is a provider notification normalized across wire formats.
// At least one of MessageID, (CampaignID, TrackingToken) or Email identifies
// the recipient; they are tried in that order.
type DeliveryEvent struct {
	Provider      string       `json:"provider"`
	Kind          DeliveryKind `json:"kind"`
	MessageID     string       `json:"message_id,omitempty"`
	CampaignID    string       `json:"campaign_id,omitempty"`
	TrackingToken string       `json:"-"`
	Email         string       `json:"email,omitempty"`
	Detail        string       `json:"detail,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// HasFallbackKey reports whether the event carries a (campaign, token) pair.
func (e DeliveryEvent) HasFallbackKey() bool {
	return e.CampaignID != "" && e.TrackingToken != ""
}

// TrackingEventType enumerates the engagement events recorded by the redirector.
type TrackingEventType string

const (
	EventOpen  TrackingEventType = "open"
	EventClick TrackingEventType = "click"
)

package domain

import "time"

// RecipientStatus enumerates the delivery lifecycle of a single campaign recipient.
type RecipientStatus string

const (
	RecipientQueued     RecipientStatus = "queued"
	RecipientClaimed    RecipientStatus = "claimed"
	RecipientSent       RecipientStatus = "sent"
	RecipientDelivered  RecipientStatus = "delivered"
	RecipientBounced    RecipientStatus = "bounced"
	RecipientComplained RecipientStatus = "complained"
	RecipientFailed     RecipientStatus = "failed"
)

// recipientDAG lists the statuses each status may move to. Re-applying the
// current status is always allowed and is a no-op.
var recipientDAG = map[RecipientStatus][]RecipientStatus{
	RecipientQueued:    {RecipientClaimed, RecipientFailed},
	RecipientClaimed:   {RecipientQueued, RecipientSent, RecipientFailed},
	RecipientSent:      {RecipientDelivered, RecipientBounced, RecipientComplained},
	RecipientDelivered: {RecipientBounced, RecipientComplained},
}

// CanTransition reports whether a recipient may move from s to next.
func (s RecipientStatus) CanTransition(next RecipientStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range recipientDAG[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PredecessorsOf returns every status from which next can be reached in a
// single step, including next itself.
func PredecessorsOf(next RecipientStatus) []RecipientStatus {
	out := []RecipientStatus{next}
	for _, from := range []RecipientStatus{
		RecipientQueued, RecipientClaimed, RecipientSent, RecipientDelivered,
	} {
		if from != next && from.CanTransition(next) {
			out = append(out, from)
		}
	}
	return out
}

// Recipient is one address within a campaign together with its tracking state.
type Recipient struct {
	ID            string          `json:"id" db:"id"`
	CampaignID    string          `json:"campaign_id" db:"campaign_id"`
	Email         string          `json:"email" db:"email"`
	TrackingToken string          `json:"-" db:"tracking_token"`
	Status        RecipientStatus `json:"status" db:"status"`
	MessageID     string          `json:"message_id,omitempty" db:"message_id"`
	LastError     string          `json:"last_error,omitempty" db:"last_error"`

	ClaimedAt    *time.Time `json:"-" db:"claimed_at"`
	SentAt       *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	BouncedAt    *time.Time `json:"bounced_at,omitempty" db:"bounced_at"`
	ComplainedAt *time.Time `json:"complained_at,omitempty" db:"complained_at"`
	OpenedAt     *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	OpensCount   int        `json:"opens_count" db:"opens_count"`
	ClickedAt    *time.Time `json:"clicked_at,omitempty" db:"clicked_at"`
	ClicksCount  int        `json:"clicks_count" db:"clicks_count"`
	LastEventAt  *time.Time `json:"last_event_at,omitempty" db:"last_event_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

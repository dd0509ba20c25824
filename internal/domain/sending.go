package domain

// EmailProvider identifies the service used to deliver campaign email.
type EmailProvider string

const (
	EmailProviderSES    EmailProvider = "ses"
	EmailProviderResend EmailProvider = "resend"
)

// OutboundEmail is the fully-resolved message ready for a provider sender.
// By the time a message reaches this struct, personalization and tracking
// injection are complete.
type OutboundEmail struct {
	CampaignID    string `json:"campaign_id"`
	RecipientID   string `json:"recipient_id"`
	TrackingToken string `json:"-"`
	To            string `json:"to"`
	FromEmail     string `json:"from_email"`
	FromName      string `json:"from_name"`
	Subject       string `json:"subject"`
	HTMLContent   string `json:"html"`
}

package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httpretry"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/sending"
)

// snsHostRe matches the hosts SNS serves subscription and signing URLs from.
var snsHostRe = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// SNSMessage is the outer SNS HTTP envelope.
type SNSMessage struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
}

// sesNotification is the SES event carried in an SNS Message. Identity
// notifications use notificationType, configuration-set events use eventType.
type sesNotification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Mail             struct {
		MessageID string              `json:"messageId"`
		Tags      map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string `json:"bounceType"`
		BounceSubType     string `json:"bounceSubType"`
		Timestamp         string `json:"timestamp"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
		Timestamp             string `json:"timestamp"`
	} `json:"complaint"`
	Delivery *struct {
		Timestamp string `json:"timestamp"`
	} `json:"delivery"`
}

var sesKinds = map[string]domain.DeliveryKind{
	"Delivery":  domain.DeliveryDelivered,
	"Bounce":    domain.DeliveryBounced,
	"Complaint": domain.DeliveryComplained,
}

// SNSParser reads SES notifications delivered over SNS HTTP(S)
// subscriptions and confirms new subscriptions.
type SNSParser struct {
	client   httpretry.HTTPDoer
	verifier *SNSVerifier
}

// NewSNSParser returns a parser that confirms subscriptions through client.
// A nil verifier disables signature checks.
func NewSNSParser(client httpretry.HTTPDoer, verifier *SNSVerifier) *SNSParser {
	if client == nil {
		client = http.DefaultClient
	}
	return &SNSParser{client: client, verifier: verifier}
}

func (p *SNSParser) Provider() string { return string(domain.EmailProviderSES) }

// Parse implements Parser.
func (p *SNSParser) Parse(ctx context.Context, _ http.Header, body []byte) ([]domain.DeliveryEvent, error) {
	var msg SNSMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing Type", ErrMalformed)
	}
	if p.verifier != nil {
		if err := p.verifier.Verify(ctx, &msg); err != nil {
			return nil, err
		}
	}

	switch msg.Type {
	case "SubscriptionConfirmation":
		return nil, p.confirm(ctx, &msg)
	case "UnsubscribeConfirmation":
		logger.Info("sns unsubscribe confirmation", "topic_arn", msg.TopicArn)
		return nil, nil
	case "Notification":
		return parseSESNotification(msg.Message)
	default:
		return nil, fmt.Errorf("%w: unknown SNS type %q", ErrMalformed, msg.Type)
	}
}

func (p *SNSParser) confirm(ctx context.Context, msg *SNSMessage) error {
	u, err := url.Parse(msg.SubscribeURL)
	if err != nil || u.Scheme != "https" || !snsHostRe.MatchString(u.Hostname()) {
		return fmt.Errorf("%w: untrusted SubscribeURL", ErrMalformed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("confirm sns subscription: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("confirm sns subscription: status %d", resp.StatusCode)
	}
	logger.Info("sns subscription confirmed", "topic_arn", msg.TopicArn)
	return nil
}

func parseSESNotification(raw string) ([]domain.DeliveryEvent, error) {
	var n sesNotification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return nil, fmt.Errorf("%w: SNS Message: %v", ErrMalformed, err)
	}
	kind, ok := sesKinds[firstNonEmpty(n.NotificationType, n.EventType)]
	if !ok {
		return nil, nil
	}

	ev := domain.DeliveryEvent{
		Provider:      string(domain.EmailProviderSES),
		Kind:          kind,
		MessageID:     n.Mail.MessageID,
		CampaignID:    firstTag(n.Mail.Tags, sending.TagCampaignID),
		TrackingToken: firstTag(n.Mail.Tags, sending.TagTrackingToken),
	}
	switch {
	case n.Bounce != nil:
		parts := nonEmpty(n.Bounce.BounceType, n.Bounce.BounceSubType)
		if len(n.Bounce.BouncedRecipients) > 0 {
			parts = append(parts, nonEmpty(n.Bounce.BouncedRecipients[0].DiagnosticCode)...)
		}
		ev.Detail = strings.Join(parts, ": ")
		ev.OccurredAt = parseTime(n.Bounce.Timestamp)
	case n.Complaint != nil:
		ev.Detail = n.Complaint.ComplaintFeedbackType
		ev.OccurredAt = parseTime(n.Complaint.Timestamp)
	case n.Delivery != nil:
		ev.OccurredAt = parseTime(n.Delivery.Timestamp)
	}
	return []domain.DeliveryEvent{ev}, nil
}

func firstTag(tags map[string][]string, key string) string {
	if v := tags[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/sending"
)

// WebhookParser reads the direct transactional webhook format:
//
//	{"type": "email.bounced", "created_at": "...",
//	 "data": {"email_id": "...", "to": ["a@b.c"], "tags": {...}, "bounce": {...}}}
type WebhookParser struct {
	provider string
	verifier *SvixVerifier
}

// NewWebhookParser returns a parser for provider. A nil verifier disables
// signature checks.
func NewWebhookParser(provider string, verifier *SvixVerifier) *WebhookParser {
	return &WebhookParser{provider: provider, verifier: verifier}
}

func (p *WebhookParser) Provider() string { return p.provider }

var webhookKinds = map[string]domain.DeliveryKind{
	"email.delivered":  domain.DeliveryDelivered,
	"email.bounced":    domain.DeliveryBounced,
	"email.complained": domain.DeliveryComplained,
}

type webhookPayload struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		ID        string          `json:"id"`
		EmailID   string          `json:"email_id"`
		To        json.RawMessage `json:"to"`
		CreatedAt string          `json:"created_at"`
		Tags      json.RawMessage `json:"tags"`
		Bounce    *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			SubType string `json:"subType"`
		} `json:"bounce"`
	} `json:"data"`
}

// Parse implements Parser.
func (p *WebhookParser) Parse(_ context.Context, header http.Header, body []byte) ([]domain.DeliveryEvent, error) {
	if p.verifier != nil {
		if err := p.verifier.Verify(header, body); err != nil {
			return nil, err
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	kind, ok := webhookKinds[payload.Type]
	if !ok {
		return nil, nil
	}

	to, err := parseRecipients(payload.Data.To)
	if err != nil {
		return nil, fmt.Errorf("%w: data.to: %v", ErrMalformed, err)
	}
	tags := parseTags(payload.Data.Tags)

	ev := domain.DeliveryEvent{
		Provider:      p.provider,
		Kind:          kind,
		MessageID:     firstNonEmpty(payload.Data.EmailID, payload.Data.ID),
		CampaignID:    tags[sending.TagCampaignID],
		TrackingToken: tags[sending.TagTrackingToken],
		OccurredAt:    parseTime(firstNonEmpty(payload.CreatedAt, payload.Data.CreatedAt)),
	}
	if len(to) > 0 {
		ev.Email = strings.ToLower(to[0])
	}
	if b := payload.Data.Bounce; b != nil {
		ev.Detail = strings.TrimSpace(strings.Join(nonEmpty(b.Type, b.SubType, b.Message), ": "))
	}
	// An event with no identifier is still acknowledged; the reconciler
	// records it as unmatched.
	return []domain.DeliveryEvent{ev}, nil
}

// parseRecipients accepts a single address or a list.
func parseRecipients(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var one string
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, err
		}
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// parseTags accepts {"k": "v"} or [{"name": "k", "value": "v"}].
func parseTags(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err == nil {
		return out
	}
	var list []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, t := range list {
			out[t.Name] = t.Value
		}
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05.999999+00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(vals ...string) []string {
	var out []string
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Package resend sends campaign email through a Resend-compatible HTTP API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httpretry"
	"github.com/ignite/outreach/internal/service/sending"
)

const DefaultBaseURL = "https://api.resend.com"

// Client implements sending.Sender.
type Client struct {
	apiKey  string
	baseURL string
	http    httpretry.HTTPDoer
}

var _ sending.Sender = (*Client)(nil)

// NewClient returns a client. A nil doer gets a retrying default client.
func NewClient(apiKey, baseURL string, doer httpretry.HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 2)
	}
	return &Client{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

func (c *Client) Name() string { return string(domain.EmailProviderResend) }

type tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Tags    []tag    `json:"tags,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send posts one message to /emails.
func (c *Client) Send(ctx context.Context, m *domain.OutboundEmail) (string, error) {
	from := m.FromEmail
	if m.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.FromName, m.FromEmail)
	}
	body, err := json.Marshal(sendRequest{
		From:    from,
		To:      []string{m.To},
		Subject: m.Subject,
		HTML:    m.HTMLContent,
		Tags: []tag{
			{Name: sending.TagCampaignID, Value: m.CampaignID},
			{Name: sending.TagTrackingToken, Value: m.TrackingToken},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &domain.ProviderError{Provider: c.Name(), Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Message != "" {
			msg = er.Message
		}
		return "", &domain.ProviderError{Provider: c.Name(), Status: resp.StatusCode, Message: msg}
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		return "", &domain.ProviderError{Provider: c.Name(), Status: http.StatusBadGateway, Message: "response without message id"}
	}
	return out.ID, nil
}

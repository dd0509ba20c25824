// Package ses sends campaign email through AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/sending"
)

// API is the subset of the SES v2 client used here.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Client implements sending.Sender.
type Client struct {
	api              API
	configurationSet string
}

var _ sending.Sender = (*Client)(nil)

// NewClient builds an SES client from config. Empty keys fall back to the
// default AWS credential chain.
func NewClient(ctx context.Context, cfg appconfig.SESConfig) (*Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return New(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// New wraps an existing API implementation.
func New(api API, configurationSet string) *Client {
	return &Client{api: api, configurationSet: configurationSet}
}

func (c *Client) Name() string { return string(domain.EmailProviderSES) }

// Send delivers one message. The campaign id and tracking token travel as
// message tags so SES events can be matched without the message id.
func (c *Client) Send(ctx context.Context, m *domain.OutboundEmail) (string, error) {
	from := m.FromEmail
	if m.FromName != "" {
		from = (&mail.Address{Name: m.FromName, Address: m.FromEmail}).String()
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{m.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(m.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(m.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String(sending.TagCampaignID), Value: aws.String(m.CampaignID)},
			{Name: aws.String(sending.TagTrackingToken), Value: aws.String(m.TrackingToken)},
		},
	}
	if c.configurationSet != "" {
		in.ConfigurationSetName = aws.String(c.configurationSet)
	}

	out, err := c.api.SendEmail(ctx, in)
	if err != nil {
		return "", toProviderError(err)
	}
	id := aws.ToString(out.MessageId)
	logger.Debug("ses accepted message", "email", m.To, "message_id", id)
	return id, nil
}

// toProviderError maps SDK failures. Client-side faults are reported as
// 400 so the HTTP edge treats them as rejected input.
func toProviderError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		status := 502
		if apiErr.ErrorFault() == smithy.FaultClient {
			status = 400
		}
		return &domain.ProviderError{
			Provider: string(domain.EmailProviderSES),
			Status:   status,
			Message:  apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(),
		}
	}
	return &domain.ProviderError{Provider: string(domain.EmailProviderSES), Status: 502, Message: err.Error()}
}

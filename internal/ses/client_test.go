package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
)

type fakeAPI struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeAPI) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func testEmail() *domain.OutboundEmail {
	return &domain.OutboundEmail{
		CampaignID: "c1", RecipientID: "r1", TrackingToken: "tok",
		To: "a@x.com", FromEmail: "news@example.com", FromName: "News Team",
		Subject: "Hello", HTMLContent: "<p>hi</p>",
	}
}

func TestSend_BuildsInput(t *testing.T) {
	api := &fakeAPI{}
	c := New(api, "tracking-set")

	id, err := c.Send(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Equal(t, "ses-123", id)

	in := api.in
	assert.Equal(t, `"News Team" <news@example.com>`, aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"a@x.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Hello", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "tracking-set", aws.ToString(in.ConfigurationSetName))

	tags := map[string]string{}
	for _, tag := range in.EmailTags {
		tags[aws.ToString(tag.Name)] = aws.ToString(tag.Value)
	}
	assert.Equal(t, map[string]string{"campaign_id": "c1", "tracking_token": "tok"}, tags)
}

func TestSend_NoConfigurationSet(t *testing.T) {
	api := &fakeAPI{}
	m := testEmail()
	m.FromName = ""
	_, err := New(api, "").Send(context.Background(), m)
	require.NoError(t, err)
	assert.Nil(t, api.in.ConfigurationSetName)
	assert.Equal(t, "news@example.com", aws.ToString(api.in.FromEmailAddress))
}

func TestSend_MapsErrors(t *testing.T) {
	api := &fakeAPI{err: &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified", Fault: smithy.FaultClient}}
	_, err := New(api, "").Send(context.Background(), testEmail())
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 400, perr.Status)
	assert.True(t, perr.Rejected())
	assert.Contains(t, perr.Message, "MessageRejected")

	api.err = errors.New("connection reset")
	_, err = New(api, "").Send(context.Background(), testEmail())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 502, perr.Status)

	api.err = context.DeadlineExceeded
	_, err = New(api, "").Send(context.Background(), testEmail())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/repository/memory"
	"github.com/ignite/outreach/internal/service/campaign"
	"github.com/ignite/outreach/internal/service/wallet"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*domain.OutboundEmail
	fail map[string]error
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(_ context.Context, m *domain.OutboundEmail) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[m.To]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, m)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeSender) count(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.To == to {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *memory.Store
	wallet *wallet.Service
	sender *fakeSender
	svc    *campaign.Service
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	store := memory.NewStore()
	w := wallet.NewService(store.Wallets())
	sender := &fakeSender{fail: map[string]error{}}
	svc := campaign.NewService(store.Campaigns(), w, sender, campaign.Options{
		TrackingBaseURL: "https://t.example.com/",
		Workers:         workers,
		DefaultPrice:    1,
	})
	return &fixture{store: store, wallet: w, sender: sender, svc: svc}
}

func (f *fixture) fund(t *testing.T, user string, amount int64) {
	t.Helper()
	_, err := f.wallet.Credit(context.Background(), user, amount, domain.LedgerPurchase, "seed-"+user, "", nil)
	require.NoError(t, err)
}

func (f *fixture) campaign(t *testing.T, emails ...string) *domain.Campaign {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.Create(ctx, "u1", campaign.CreateInput{
		Name:      "Launch",
		Subject:   "Hi {{ email }}",
		HTML:      `<html><body><a href="https://shop.example.com/p?id=1">Shop</a></body></html>`,
		FromEmail: "news@example.com",
		FromName:  "News",
	})
	require.NoError(t, err)
	if len(emails) > 0 {
		_, err = f.svc.AddRecipients(ctx, "u1", c.ID, emails)
		require.NoError(t, err)
	}
	return c
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "u1", campaign.CreateInput{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.Create(ctx, "u1", campaign.CreateInput{Name: "x", FromEmail: "not-an-email"})
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.Create(ctx, "u1", campaign.CreateInput{Name: "x", HTML: "{% if %}"})
	require.ErrorAs(t, err, &verr)

	c, err := f.svc.Create(ctx, "u1", campaign.CreateInput{Name: "ok"})
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, c.Status)
	assert.Equal(t, int64(1), c.PricePerEmail)
}

func TestGet_OtherUserIsNotFound(t *testing.T) {
	f := newFixture(t, 1)
	c := f.campaign(t)
	_, err := f.svc.Get(context.Background(), "u2", c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddRecipients_NormalizesAndDedupes(t *testing.T) {
	f := newFixture(t, 1)
	c := f.campaign(t, "a@x.com")

	res, err := f.svc.AddRecipients(context.Background(), "u1", c.ID,
		[]string{" B@X.com ", "b@x.com", "a@x.com", "nope"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, []string{"nope"}, res.Invalid)
}

func TestSend_LimitLeavesRemainderQueued(t *testing.T) {
	f := newFixture(t, 2)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com", "b@x.com", "c@x.com")

	res, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, int64(2), res.CreditsCharged)

	st, err := f.svc.Stats(context.Background(), "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ByStatus[domain.RecipientQueued])
	assert.Equal(t, 2, st.ByStatus[domain.RecipientSent])
	assert.Equal(t, domain.CampaignSending, f.store.CampaignSnapshot(c.ID).Status)

	res, err = f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	snap := f.store.CampaignSnapshot(c.ID)
	assert.Equal(t, domain.CampaignSent, snap.Status)
	assert.NotNil(t, snap.CompletedAt)
	assert.Equal(t, int64(3), snap.CreditsCharged)

	bal, err := f.wallet.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal)
}

func TestSend_PartialFailureRefunds(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com", "b@x.com", "c@x.com")
	f.sender.fail["b@x.com"] = &domain.ProviderError{Provider: "fake", Status: 400, Message: "rejected"}

	res, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b@x.com", res.Errors[0].Email)
	assert.Contains(t, res.Errors[0].Error, "rejected")
	assert.Equal(t, int64(2), res.CreditsCharged)

	bal, err := f.wallet.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), bal)
	assert.Equal(t, domain.CampaignSent, f.store.CampaignSnapshot(c.ID).Status)

	entries, err := f.wallet.Entries(context.Background(), "u1", 0)
	require.NoError(t, err)
	kinds := map[domain.LedgerKind]int{}
	for _, e := range entries {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[domain.LedgerDebit])
	assert.Equal(t, 1, kinds[domain.LedgerRefund])
}

func TestSend_AllFailedMarksCampaignFailed(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com")
	f.sender.fail["a@x.com"] = errors.New("boom")

	res, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, domain.CampaignFailed, f.store.CampaignSnapshot(c.ID).Status)

	bal, _ := f.wallet.Balance(context.Background(), "u1")
	assert.Equal(t, int64(10), bal)
}

func TestSend_DryRunTouchesNothing(t *testing.T) {
	f := newFixture(t, 1)
	c := f.campaign(t, "a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com")

	res, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Skipped)
	assert.Equal(t, 0, res.Sent)
	assert.Empty(t, f.sender.sent)

	st, _ := f.svc.Stats(context.Background(), "u1", c.ID)
	assert.Equal(t, 5, st.ByStatus[domain.RecipientQueued])
	assert.Equal(t, domain.CampaignDraft, f.store.CampaignSnapshot(c.ID).Status)
}

func TestSend_InsufficientCreditsReleasesClaims(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 1)
	c := f.campaign(t, "a@x.com", "b@x.com")

	_, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	var ierr *domain.InsufficientCreditsError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, int64(2), ierr.Required)
	assert.Equal(t, int64(1), ierr.Balance)
	assert.Empty(t, f.sender.sent)

	st, _ := f.svc.Stats(context.Background(), "u1", c.ID)
	assert.Equal(t, 2, st.ByStatus[domain.RecipientQueued])
	assert.Equal(t, domain.CampaignDraft, f.store.CampaignSnapshot(c.ID).Status)
}

// hookSender runs after each accepted message.
type hookSender struct {
	*fakeSender
	after func()
}

func (h *hookSender) Send(ctx context.Context, m *domain.OutboundEmail) (string, error) {
	id, err := h.fakeSender.Send(ctx, m)
	if err == nil && h.after != nil {
		h.after()
	}
	return id, err
}

// flakyRepo fails MarkSent for the first failures calls (all calls when
// failures is negative).
type flakyRepo struct {
	campaign.Repository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepo) MarkSent(ctx context.Context, id, messageID string, at time.Time) error {
	r.mu.Lock()
	r.calls++
	fail := r.failures < 0 || r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return r.Repository.MarkSent(ctx, id, messageID, at)
}

func TestSend_CanceledRequestReleasesUntriedRecipients(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com", "b@x.com", "c@x.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &hookSender{fakeSender: f.sender, after: cancel}
	svc := campaign.NewService(f.store.Campaigns(), f.wallet, sender, campaign.Options{DefaultPrice: 1})

	res, err := svc.Send(ctx, "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(1), res.CreditsCharged)

	st, err := f.svc.Stats(context.Background(), "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ByStatus[domain.RecipientSent])
	assert.Equal(t, 2, st.ByStatus[domain.RecipientQueued])
	assert.Zero(t, st.ByStatus[domain.RecipientFailed])
	assert.Equal(t, domain.CampaignSending, f.store.CampaignSnapshot(c.ID).Status)

	bal, _ := f.wallet.Balance(context.Background(), "u1")
	assert.Equal(t, int64(9), bal)

	res, err = f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, domain.CampaignSent, f.store.CampaignSnapshot(c.ID).Status)
}

func TestSend_BatchStopsBeforeClaimGoesStale(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com", "b@x.com", "c@x.com")

	sender := &hookSender{fakeSender: f.sender, after: func() { time.Sleep(30 * time.Millisecond) }}
	svc := campaign.NewService(f.store.Campaigns(), f.wallet, sender, campaign.Options{
		DefaultPrice: 1,
		ClaimTTL:     40 * time.Millisecond,
	})

	res, err := svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, int64(1), res.CreditsCharged)

	st, _ := f.svc.Stats(context.Background(), "u1", c.ID)
	assert.Equal(t, 2, st.ByStatus[domain.RecipientQueued])
	assert.Zero(t, st.ByStatus[domain.RecipientClaimed])
}

func TestSend_MarkSentRetries(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com")

	repo := &flakyRepo{Repository: f.store.Campaigns(), failures: 2}
	svc := campaign.NewService(repo, f.wallet, f.sender, campaign.Options{DefaultPrice: 1})

	res, err := svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 3, repo.calls)

	st, _ := f.svc.Stats(context.Background(), "u1", c.ID)
	assert.Equal(t, 1, st.ByStatus[domain.RecipientSent])
}

func TestSend_UnrecordedSendIsNeverReclaimed(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com")

	repo := &flakyRepo{Repository: f.store.Campaigns(), failures: -1}
	svc := campaign.NewService(repo, f.wallet, f.sender, campaign.Options{
		DefaultPrice: 1,
		ClaimTTL:     40 * time.Millisecond,
	})

	res, err := svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, int64(1), res.CreditsCharged)

	st, _ := f.svc.Stats(context.Background(), "u1", c.ID)
	assert.Zero(t, st.ByStatus[domain.RecipientClaimed])

	time.Sleep(50 * time.Millisecond)
	res, err = svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, f.sender.count("a@x.com"))

	bal, _ := f.wallet.Balance(context.Background(), "u1")
	assert.Equal(t, int64(9), bal)
}

func TestSend_RequiresContent(t *testing.T) {
	f := newFixture(t, 1)
	c, err := f.svc.Create(context.Background(), "u1", campaign.CreateInput{Name: "empty"})
	require.NoError(t, err)

	_, err = f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{
		Subject: "s", HTML: "<p>x</p>", FromEmail: "bad",
	})
	require.ErrorAs(t, err, &verr)
}

func TestSend_PersonalizesAndTracks(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com")

	_, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)
	m := f.sender.sent[0]
	assert.Equal(t, "Hi a@x.com", m.Subject)
	assert.NotEmpty(t, m.TrackingToken)
	assert.Contains(t, m.HTMLContent, "https://t.example.com/track/click?c="+c.ID)
	assert.Contains(t, m.HTMLContent, "https://t.example.com/track/open?c="+c.ID)
	assert.NotContains(t, m.HTMLContent, `href="https://shop.example.com`)

	rec := f.store.Snapshot(m.RecipientID)
	assert.Equal(t, domain.RecipientSent, rec.Status)
	assert.Equal(t, "msg-1", rec.MessageID)
}

func TestSend_OverridesApplyToBatchOnly(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com")

	_, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{Subject: "Override"})
	require.NoError(t, err)
	assert.Equal(t, "Override", f.sender.sent[0].Subject)
	assert.Equal(t, "Hi {{ email }}", f.store.CampaignSnapshot(c.ID).Subject)
}

func TestSend_ConcurrentCallsNeverDoubleSend(t *testing.T) {
	f := newFixture(t, 4)
	f.fund(t, "u1", 1000)
	emails := make([]string, 50)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%02d@x.com", i)
	}
	c := f.campaign(t, emails...)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{Limit: 20})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, e := range emails {
		assert.Equal(t, 1, f.sender.count(e), e)
	}
	bal, _ := f.wallet.Balance(context.Background(), "u1")
	assert.Equal(t, int64(950), bal)
	assert.Equal(t, domain.CampaignSent, f.store.CampaignSnapshot(c.ID).Status)
}

func TestSend_TerminalCampaignIsNoop(t *testing.T) {
	f := newFixture(t, 1)
	f.fund(t, "u1", 10)
	c := f.campaign(t, "a@x.com")
	_, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)

	res, err := f.svc.Send(context.Background(), "u1", c.ID, campaign.SendInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent+res.Failed+res.Skipped)

	_, err = f.svc.AddRecipients(context.Background(), "u1", c.ID, []string{"late@x.com"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, campaign.ErrNotEditable.Error(), verr.Message)
}

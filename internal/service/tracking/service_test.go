package tracking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/repository/memory"
	"github.com/ignite/outreach/internal/service/tracking"
)

func seed(t *testing.T) (*memory.Store, *domain.Recipient) {
	t.Helper()
	store := memory.NewStore()
	c := &domain.Campaign{ID: "c1", UserID: "u1", Status: domain.CampaignSending}
	require.NoError(t, store.Campaigns().Create(context.Background(), c))
	r := domain.Recipient{ID: "r1", CampaignID: "c1", Email: "a@x.com", TrackingToken: "tok", Status: domain.RecipientSent}
	_, err := store.Campaigns().AddRecipients(context.Background(), "c1", []domain.Recipient{r})
	require.NoError(t, err)
	return store, &r
}

func TestRecordOpen_SetOnce(t *testing.T) {
	store, _ := seed(t)
	svc := tracking.NewService(store.Recipients())
	ctx := context.Background()

	ok, err := svc.RecordOpen(ctx, "c1", "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	first := store.Snapshot("r1")
	require.NotNil(t, first.OpenedAt)

	time.Sleep(5 * time.Millisecond)
	_, err = svc.RecordOpen(ctx, "c1", "tok")
	require.NoError(t, err)

	second := store.Snapshot("r1")
	assert.Equal(t, 2, second.OpensCount)
	assert.True(t, first.OpenedAt.Equal(*second.OpenedAt))
	assert.True(t, second.LastEventAt.After(*first.OpenedAt))
}

func TestRecordClick(t *testing.T) {
	store, _ := seed(t)
	svc := tracking.NewService(store.Recipients())

	ok, err := svc.RecordClick(context.Background(), "c1", "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.Snapshot("r1").ClicksCount)
	assert.Equal(t, 0, store.Snapshot("r1").OpensCount)
}

func TestRecord_UnknownAndEmptyAreNoops(t *testing.T) {
	store, _ := seed(t)
	svc := tracking.NewService(store.Recipients())
	ctx := context.Background()

	ok, err := svc.RecordOpen(ctx, "c1", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.RecordOpen(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Snapshot("r1").OpensCount)
}

func TestSafeRedirect(t *testing.T) {
	const fb = "https://fallback.example"
	tests := map[string]string{
		"https://x.com/a?b=1": "https://x.com/a?b=1",
		"HTTP://x.com":        "http://x.com",
		"javascript:alert(1)": fb,
		"//evil.com":          fb,
		"/relative":           fb,
		"data:text/html,hi":   fb,
		"":                    fb,
		"ftp://files.example": fb,
		"https://":            fb,
	}
	for in, want := range tests {
		assert.Equal(t, want, tracking.SafeRedirect(in, fb), in)
	}
}

package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/repository/memory"
	"github.com/ignite/outreach/internal/service/delivery"
)

func seed(t *testing.T, recs ...domain.Recipient) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Campaigns().Create(ctx, &domain.Campaign{ID: "c1", UserID: "u1", Status: domain.CampaignSending}))
	_, err := store.Campaigns().AddRecipients(ctx, "c1", recs)
	require.NoError(t, err)
	return store
}

func sentRecipient(id, email, msgID string) domain.Recipient {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.Recipient{
		ID: id, CampaignID: "c1", Email: email, TrackingToken: "tok-" + id,
		Status: domain.RecipientSent, MessageID: msgID, SentAt: &at,
	}
}

func TestApply_ByMessageID(t *testing.T) {
	store := seed(t, sentRecipient("r1", "a@x.com", "m-1"))
	rec := delivery.NewReconciler(store.Recipients())

	matched, err := rec.Apply(context.Background(), domain.DeliveryEvent{
		Provider: "ses", Kind: domain.DeliveryDelivered, MessageID: "m-1",
	})
	require.NoError(t, err)
	assert.True(t, matched)

	got := store.Snapshot("r1")
	assert.Equal(t, domain.RecipientDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
	assert.NotNil(t, got.LastEventAt)
}

func TestApply_FallsBackToToken(t *testing.T) {
	store := seed(t, sentRecipient("r1", "a@x.com", "m-1"))
	rec := delivery.NewReconciler(store.Recipients())

	matched, err := rec.Apply(context.Background(), domain.DeliveryEvent{
		Provider: "ses", Kind: domain.DeliveryBounced, MessageID: "unknown",
		CampaignID: "c1", TrackingToken: "tok-r1", Detail: "Permanent: General",
	})
	require.NoError(t, err)
	assert.True(t, matched)
	got := store.Snapshot("r1")
	assert.Equal(t, domain.RecipientBounced, got.Status)
	assert.Equal(t, "Permanent: General", got.LastError)
}

func TestApply_EmailPicksLatestSend(t *testing.T) {
	older := sentRecipient("r1", "a@x.com", "m-1")
	newer := sentRecipient("r2", "A@x.com", "m-2")
	later := older.SentAt.Add(time.Hour)
	newer.SentAt = &later
	store := seed(t, older)
	// second campaign so the address appears twice
	ctx := context.Background()
	require.NoError(t, store.Campaigns().Create(ctx, &domain.Campaign{ID: "c2", UserID: "u1"}))
	newer.CampaignID = "c2"
	_, err := store.Campaigns().AddRecipients(ctx, "c2", []domain.Recipient{newer})
	require.NoError(t, err)

	rec := delivery.NewReconciler(store.Recipients())
	matched, err := rec.Apply(ctx, domain.DeliveryEvent{Provider: "resend", Kind: domain.DeliveryComplained, Email: "a@x.com"})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, domain.RecipientSent, store.Snapshot("r1").Status)
	assert.Equal(t, domain.RecipientComplained, store.Snapshot("r2").Status)
}

func TestApply_BounceTwiceIsIdempotent(t *testing.T) {
	store := seed(t, sentRecipient("r1", "a@x.com", "m-1"))
	rec := delivery.NewReconciler(store.Recipients())
	ctx := context.Background()
	first := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := rec.Apply(ctx, domain.DeliveryEvent{Kind: domain.DeliveryBounced, MessageID: "m-1", OccurredAt: first})
	require.NoError(t, err)
	_, err = rec.Apply(ctx, domain.DeliveryEvent{Kind: domain.DeliveryBounced, MessageID: "m-1", OccurredAt: first.Add(time.Minute)})
	require.NoError(t, err)

	got := store.Snapshot("r1")
	assert.Equal(t, domain.RecipientBounced, got.Status)
	assert.True(t, got.BouncedAt.Equal(first))
	assert.True(t, got.LastEventAt.Equal(first.Add(time.Minute)))
}

func TestApply_DoesNotRegress(t *testing.T) {
	store := seed(t, sentRecipient("r1", "a@x.com", "m-1"))
	rec := delivery.NewReconciler(store.Recipients())
	ctx := context.Background()

	_, err := rec.Apply(ctx, domain.DeliveryEvent{Kind: domain.DeliveryBounced, MessageID: "m-1"})
	require.NoError(t, err)
	matched, err := rec.Apply(ctx, domain.DeliveryEvent{Kind: domain.DeliveryDelivered, MessageID: "m-1"})
	require.NoError(t, err)
	assert.True(t, matched)

	got := store.Snapshot("r1")
	assert.Equal(t, domain.RecipientBounced, got.Status)
	assert.Nil(t, got.DeliveredAt)
}

func TestApply_DeliveredThenComplaint(t *testing.T) {
	store := seed(t, sentRecipient("r1", "a@x.com", "m-1"))
	rec := delivery.NewReconciler(store.Recipients())
	ctx := context.Background()

	_, err := rec.Apply(ctx, domain.DeliveryEvent{Kind: domain.DeliveryDelivered, MessageID: "m-1"})
	require.NoError(t, err)
	_, err = rec.Apply(ctx, domain.DeliveryEvent{Kind: domain.DeliveryComplained, MessageID: "m-1", Detail: "abuse"})
	require.NoError(t, err)

	got := store.Snapshot("r1")
	assert.Equal(t, domain.RecipientComplained, got.Status)
	assert.NotNil(t, got.DeliveredAt)
	assert.NotNil(t, got.ComplainedAt)
}

func TestApply_UnmatchedWritesNothing(t *testing.T) {
	store := seed(t, sentRecipient("r1", "a@x.com", "m-1"))
	rec := delivery.NewReconciler(store.Recipients())

	matched, err := rec.Apply(context.Background(), domain.DeliveryEvent{
		Kind: domain.DeliveryBounced, MessageID: "nope", Email: "other@x.com",
	})
	require.NoError(t, err)
	assert.False(t, matched)

	got := store.Snapshot("r1")
	assert.Equal(t, domain.RecipientSent, got.Status)
	assert.Nil(t, got.LastEventAt)
}

func TestApply_InvalidKind(t *testing.T) {
	store := seed(t)
	rec := delivery.NewReconciler(store.Recipients())
	_, err := rec.Apply(context.Background(), domain.DeliveryEvent{Kind: "opened", MessageID: "m"})
	assert.ErrorIs(t, err, delivery.ErrMalformed)
}

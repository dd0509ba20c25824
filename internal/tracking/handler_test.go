package tracking_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/repository/memory"
	trackingsvc "github.com/ignite/outreach/internal/service/tracking"
	"github.com/ignite/outreach/internal/tracking"
)

type failingRecorder struct{}

func (failingRecorder) RecordOpen(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func (failingRecorder) RecordClick(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func router(rec tracking.Recorder) http.Handler {
	r := chi.NewRouter()
	tracking.NewHandler(rec, "https://app.example.com").Mount(r)
	return r
}

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

func TestOpen_ServesPixelAndRecords(t *testing.T) {
	store, rcpt := seed(t)
	h := router(trackingsvc.NewService(store.Recipients()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/open?c=c1&t="+rcpt.TrackingToken, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "\x89PNG", rec.Body.String()[:4])

	got, err := store.Recipients().FindByToken(context.Background(), "c1", rcpt.TrackingToken)
	require.NoError(t, err)
	assert.Equal(t, 1, got.OpensCount)
	assert.NotNil(t, got.OpenedAt)
}

func TestOpen_UnknownOrFailingStillServesPixel(t *testing.T) {
	for _, rec := range []tracking.Recorder{trackingsvc.NewService(memory.NewStore().Recipients()), failingRecorder{}} {
		w := httptest.NewRecorder()
		router(rec).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/track/open?c=nope&t=nope", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	}
}

func TestClick_Redirects(t *testing.T) {
	store, rcpt := seed(t)
	h := router(trackingsvc.NewService(store.Recipients()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/click?c=c1&t="+rcpt.TrackingToken+"&u=https%3A%2F%2Fshop.io%2Fsale%3Fa%3D1", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://shop.io/sale?a=1", rec.Header().Get("Location"))

	got, err := store.Recipients().FindByToken(context.Background(), "c1", rcpt.TrackingToken)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ClicksCount)
}

func TestClick_UnsafeTargetFallsBack(t *testing.T) {
	for _, u := range []string{"", "javascript%3Aalert(1)", "%2F%2Fevil", "not%20a%20url"} {
		rec := httptest.NewRecorder()
		router(failingRecorder{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/click?c=c&t=t&u="+u, nil))
		assert.Equal(t, http.StatusFound, rec.Code, u)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Location"), u)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/auth"
	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/repository/memory"
	"github.com/ignite/outreach/internal/service/campaign"
	"github.com/ignite/outreach/internal/service/delivery"
	"github.com/ignite/outreach/internal/service/oauth"
	"github.com/ignite/outreach/internal/service/social"
	trackingsvc "github.com/ignite/outreach/internal/service/tracking"
	"github.com/ignite/outreach/internal/service/wallet"
	"github.com/ignite/outreach/internal/tracking"
)

const adminToken = "admin-token"

type stubSender struct {
	mu sync.Mutex
	n  int
}

func (s *stubSender) Name() string { return "stub" }

func (s *stubSender) Send(context.Context, *domain.OutboundEmail) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("msg-%d", s.n), nil
}

type stubProvider struct {
	name domain.Provider
}

func (p stubProvider) Name() domain.Provider { return p.name }
func (p stubProvider) AuthCodeURL(state string) string {
	return "https://consent.example.com/auth?state=" + url.QueryEscape(state)
}
func (p stubProvider) Exchange(_ context.Context, code string) (*oauth.Token, error) {
	if code == "bad" {
		return nil, &domain.ProviderError{Provider: string(p.name), Status: 400, Message: "invalid code"}
	}
	return &oauth.Token{AccessToken: "at-" + code}, nil
}
func (p stubProvider) Identity(context.Context, string) (*oauth.Identity, error) {
	return &oauth.Identity{ExternalID: "member-1", Name: "Member"}, nil
}
func (p stubProvider) Revoke(context.Context, string) error { return nil }

type stubPublisher struct{}

func (stubPublisher) Publish(_ context.Context, _ *domain.SocialAccount, post domain.Post) (*domain.PublishResult, error) {
	return &domain.PublishResult{ID: "post-1", Permalink: "https://social.example.com/post-1"}, nil
}

type testServer struct {
	h      http.Handler
	authn  *auth.Manager
	wallet *wallet.Service
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	authn := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", CookieName: "session", AdminToken: adminToken})
	w := wallet.NewService(store.Wallets())
	camps := campaign.NewService(store.Campaigns(), w, &stubSender{}, campaign.Options{
		TrackingBaseURL: "https://t.example.com",
		DefaultPrice:    1,
	})
	conns := oauth.NewService(store.Connections(), nil, oauth.Options{ChangeLimit: 2}, stubProvider{name: domain.ProviderLinkedIn})
	pub := social.NewService(conns, w, social.Pricing{TextCost: map[domain.Provider]int64{domain.ProviderLinkedIn: 3}},
		map[domain.Provider]social.Publisher{domain.ProviderLinkedIn: stubPublisher{}})

	srv := NewServer(Deps{
		Auth:           authn,
		Campaigns:      camps,
		Wallet:         w,
		Tracking:       tracking.NewHandler(trackingsvc.NewService(store.Recipients()), "https://app.example.com"),
		Reconciler:     delivery.NewReconciler(store.Recipients()),
		Parsers:        []delivery.Parser{delivery.NewWebhookParser("resend", nil)},
		OAuth:          conns,
		Social:         pub,
		Health:         NewHealthChecker(nil, nil),
		AppRedirectURL: "https://app.example.com/",
	})
	return &testServer{h: srv.Routes(), authn: authn, wallet: w, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	switch user {
	case "":
	case adminToken:
		req.Header.Set("Authorization", "Bearer "+adminToken)
	default:
		tok, err := ts.authn.Issue(user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) createCampaign(t *testing.T, user string, emails ...string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/campaigns", user, map[string]any{
		"name": "Launch", "subject": "Hi {{ email }}", "html": `<a href="https://shop.io">shop</a>`, "from_email": "news@brand.io",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["id"].(string)
	rec = ts.do(t, http.MethodPost, "/campaigns/"+id+"/recipients", user, map[string]any{"emails": emails})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func TestCampaignFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCampaign(t, "u1", "a@x.io", "b@x.io")

	rec := ts.do(t, http.MethodPost, "/wallet/credits", adminToken, map[string]any{"user_id": "u1", "amount": 10, "correlation_id": "order-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 10, decode(t, rec)["balance"])

	rec = ts.do(t, http.MethodPost, "/campaigns/"+id+"/send", "u1", map[string]any{"limit": 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.Equal(t, true, res["ok"])
	assert.EqualValues(t, 2, res["sent"])
	assert.EqualValues(t, 0, res["failed"])

	rec = ts.do(t, http.MethodGet, "/wallet", "u1", nil)
	assert.EqualValues(t, 8, decode(t, rec)["balance"])

	rec = ts.do(t, http.MethodGet, "/wallet/ledger", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["entries"], 2)

	rec = ts.do(t, http.MethodGet, "/campaigns/"+id, "u1", nil)
	assert.Equal(t, "sent", decode(t, rec)["status"])

	rec = ts.do(t, http.MethodGet, "/campaigns/"+id, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCampaignSend_InsufficientCredits(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCampaign(t, "u1", "a@x.io")

	rec := ts.do(t, http.MethodPost, "/campaigns/"+id+"/send", "u1", nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INSUFFICIENT_CREDITS", body["error"])
	assert.EqualValues(t, 1, body["required"])
	assert.EqualValues(t, 0, body["balance"])
}

func TestRoutes_RequireAuth(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/wallet", "/campaigns/x", "/linkedin/status", "/linkedin/oauth/start"} {
		rec := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := ts.do(t, http.MethodPost, "/wallet/credits", "u1", map[string]any{"user_id": "u1", "amount": 5})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeliveryWebhook(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createCampaign(t, "u1", "a@x.io")
	ts.do(t, http.MethodPost, "/wallet/credits", adminToken, map[string]any{"user_id": "u1", "amount": 5})
	rec := ts.do(t, http.MethodPost, "/campaigns/"+id+"/send", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	bounce := map[string]any{"type": "email.bounced", "data": map[string]any{"email_id": "msg-1", "to": []string{"a@x.io"}}}
	for i := 0; i < 2; i++ {
		rec = ts.do(t, http.MethodPost, "/email/webhooks/resend", "", bounce)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.EqualValues(t, 1, decode(t, rec)["matched"])
	}

	rec = ts.do(t, http.MethodGet, "/campaigns/"+id+"/stats", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	byStatus := decode(t, rec)["by_status"].(map[string]any)
	assert.EqualValues(t, 1, byStatus["bounced"])

	unmatched := map[string]any{"type": "email.delivered", "data": map[string]any{"email_id": "nope", "to": "z@x.io"}}
	rec = ts.do(t, http.MethodPost, "/email/webhooks/resend", "", unmatched)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["matched"])

	noID := map[string]any{"type": "email.bounced", "data": map[string]any{}}
	rec = ts.do(t, http.MethodPost, "/email/webhooks/resend", "", noID)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["received"])
	assert.EqualValues(t, 0, body["matched"])

	rec = ts.do(t, http.MethodPost, "/email/webhooks/resend", "", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/email/webhooks/sparkpost", "", bounce)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeliveryWebhook_BadSignature(t *testing.T) {
	verifier, err := delivery.NewSvixVerifier("whsec_dGVzdC1zZWNyZXQ=")
	require.NoError(t, err)
	srv := NewServer(Deps{
		Auth:       auth.NewManager(config.AuthConfig{JWTSecret: "x"}),
		Reconciler: delivery.NewReconciler(memory.NewStore().Recipients()),
		Parsers:    []delivery.Parser{delivery.NewWebhookParser("resend", verifier)},
	})
	req := httptest.NewRequest(http.MethodPost, "/email/webhooks/resend", strings.NewReader(`{"type":"email.delivered","data":{"email_id":"m"}}`))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", fmt.Sprint(time.Now().Unix()))
	req.Header.Set("svix-signature", "v1,AAAA")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTrackingRoutes(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/track/click?c=c&t=t&u=https%3A%2F%2Fshop.io", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://shop.io", rec.Header().Get("Location"))

	rec = ts.do(t, http.MethodGet, "/track/open?c=c&t=t", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func oauthConnect(t *testing.T, ts *testServer, user, code string) *url.URL {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/linkedin/oauth/start", user, nil)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	consent, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)

	rec = ts.do(t, http.MethodGet, "/linkedin/oauth/callback?code="+code+"&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	back, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return back
}

func TestOAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	back := oauthConnect(t, ts, "u1", "good")
	assert.Equal(t, "/integrations", back.Path)
	assert.Equal(t, "connected", back.Query().Get("status"))
	assert.Equal(t, "linkedin", back.Query().Get("provider"))

	rec := ts.do(t, http.MethodGet, "/linkedin/status", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec)
	assert.Equal(t, true, st["connected"])
	assert.NotContains(t, rec.Body.String(), "at-good")

	rec = ts.do(t, http.MethodPost, "/linkedin/disconnect", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])
}

func TestOAuthCallback_Errors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/linkedin/oauth/callback?code=x&state=forged", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	back, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "error", back.Query().Get("status"))
	assert.Equal(t, "invalid_state", back.Query().Get("reason"))

	back = oauthConnect(t, ts, "u1", "bad")
	assert.Equal(t, "provider_error", back.Query().Get("reason"))

	rec = ts.do(t, http.MethodGet, "/linkedin/oauth/callback?error=access_denied&state=s", "", nil)
	back, err = url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", back.Query().Get("reason"))

	rec = ts.do(t, http.MethodGet, "/facebook/oauth/start", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisconnect_ChangeLimit(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Connections().UpsertAccount(context.Background(), &domain.SocialAccount{
		UserID: "u1", Provider: domain.ProviderLinkedIn, ExternalID: "m", AccessToken: "tok",
	}))
	for i := 0; i < 2; i++ {
		ok, err := ts.store.Connections().ConsumeChange(context.Background(), "u1", domain.ProviderLinkedIn, 2)
		require.NoError(t, err)
		require.True(t, ok)
	}

	rec := ts.do(t, http.MethodPost, "/linkedin/disconnect", "u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "CHANGE_LIMIT", body["error"])
	assert.EqualValues(t, 0, body["remaining"])
}

func TestPublish(t *testing.T) {
	ts := newTestServer(t)
	oauthConnect(t, ts, "u1", "good")

	rec := ts.do(t, http.MethodPost, "/social/linkedin/publish", "u1", map[string]any{"text": "hello"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	ts.do(t, http.MethodPost, "/wallet/credits", adminToken, map[string]any{"user_id": "u1", "amount": 5})
	rec = ts.do(t, http.MethodPost, "/social/linkedin/publish", "u1", map[string]any{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "post-1", body["id"])
	assert.EqualValues(t, 2, body["balance"])

	rec = ts.do(t, http.MethodPost, "/social/myspace/publish", "u1", map[string]any{"text": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ready"])

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "outreach_http_requests_total")
}

func TestCallbackReason(t *testing.T) {
	assert.Equal(t, "invalid_state", callbackReason(domain.ErrInvalidState))
	assert.Equal(t, "change_limit", callbackReason(&domain.ChangeLimitExceededError{}))
	assert.Equal(t, "provider_disabled", callbackReason(fmt.Errorf("x: %w", oauth.ErrProviderDisabled)))
	assert.Equal(t, "invalid_request", callbackReason(domain.Validation("code is required")))
	assert.Equal(t, "internal", callbackReason(fmt.Errorf("boom")))
}

package facebook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/storage"
)

type graphStub struct {
	mu       sync.Mutex
	requests []string
	forms    map[string]map[string]string
}

func (g *graphStub) handler(t *testing.T) http.Handler {
	g.forms = map[string]map[string]string{}
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.requests = append(g.requests, r.Method+" "+r.URL.Path)
		g.mu.Unlock()

		switch r.Method + " " + r.URL.Path {
		case "POST /token":
			write(w, map[string]any{"access_token": "short", "token_type": "bearer", "expires_in": 3600})
		case "GET /oauth/access_token":
			assert.Equal(t, "fb_exchange_token", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "short", r.URL.Query().Get("fb_exchange_token"))
			write(w, map[string]any{"access_token": "long", "expires_in": 5184000})
		case "GET /me":
			if r.URL.Query().Get("access_token") != "long" {
				w.WriteHeader(http.StatusUnauthorized)
				write(w, map[string]any{"error": map[string]any{"message": "Invalid OAuth access token.", "code": 190}})
				return
			}
			write(w, map[string]any{"id": "fb-42", "name": "Pat"})
		case "GET /me/accounts":
			write(w, map[string]any{"data": []map[string]any{{"id": "p1", "name": "Shop", "category": "Retail"}}})
		case "DELETE /me/permissions":
			write(w, map[string]any{"success": true})
		case "GET /p1":
			write(w, map[string]any{"access_token": "page-token", "id": "p1"})
		case "POST /p1/feed", "POST /p1/photos":
			fields := map[string]string{}
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				assert.NoError(t, r.ParseMultipartForm(1<<20))
				for k, v := range r.MultipartForm.Value {
					fields[k] = v[0]
				}
				f, _, err := r.FormFile("source")
				if assert.NoError(t, err) {
					b, _ := io.ReadAll(f)
					fields["source"] = string(b)
				}
			} else {
				assert.NoError(t, r.ParseForm())
				for k := range r.PostForm {
					fields[k] = r.PostForm.Get(k)
				}
			}
			g.mu.Lock()
			g.forms[r.URL.Path] = fields
			g.mu.Unlock()
			if r.URL.Path == "/p1/feed" {
				write(w, map[string]any{"id": "p1_100"})
			} else {
				write(w, map[string]any{"id": "photo1", "post_id": "p1_200"})
			}
		default:
			http.NotFound(w, r)
		}
	})
}

type stubImages struct{}

func (stubImages) Fetch(context.Context, string) (*storage.Image, error) {
	return &storage.Image{Data: []byte("PNGDATA"), ContentType: "image/png"}, nil
}

func newTestClient(t *testing.T) (*Client, *graphStub) {
	t.Helper()
	stub := &graphStub{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	c := NewClient(config.ProviderConfig{
		ClientID: "app", ClientSecret: "secret",
		APIBaseURL: srv.URL, AuthURL: srv.URL + "/dialog", TokenURL: srv.URL + "/token",
	}, "https://api.example.com/facebook/oauth/callback", srv.Client(), stubImages{})
	return c, stub
}

func TestAuthCodeURL(t *testing.T) {
	c, _ := newTestClient(t)
	u := c.AuthCodeURL("st4te")
	assert.Contains(t, u, "/dialog?")
	assert.Contains(t, u, "state=st4te")
	assert.Contains(t, u, "pages_manage_posts")
	assert.Contains(t, u, "redirect_uri=https%3A%2F%2Fapi.example.com%2Ffacebook%2Foauth%2Fcallback")
}

func TestExchangeAndIdentity(t *testing.T) {
	c, _ := newTestClient(t)
	tok, err := c.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "long", tok.AccessToken)
	require.NotNil(t, tok.ExpiresAt)

	id, err := c.Identity(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fb-42", id.ExternalID)
	assert.Equal(t, "Pat", id.Name)

	_, err = c.Identity(context.Background(), "bad")
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusUnauthorized, perr.Status)
	assert.Equal(t, "Invalid OAuth access token.", perr.Message)
}

func TestPagesAndRevoke(t *testing.T) {
	c, stub := newTestClient(t)
	pages, err := c.Pages(context.Background(), "long")
	require.NoError(t, err)
	assert.Equal(t, []domain.Page{{ID: "p1", Name: "Shop", Category: "Retail"}}, pages)

	require.NoError(t, c.Revoke(context.Background(), "long"))
	assert.Contains(t, stub.requests, "DELETE /me/permissions")
}

func TestPublish(t *testing.T) {
	c, stub := newTestClient(t)
	acct := &domain.SocialAccount{AccessToken: "long", SelectedPageID: "p1"}

	res, err := c.Publish(context.Background(), acct, domain.Post{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "p1_100", res.ID)
	assert.Equal(t, "https://www.facebook.com/p1_100", res.Permalink)
	assert.Equal(t, "hello", stub.forms["/p1/feed"]["message"])
	assert.Equal(t, "page-token", stub.forms["/p1/feed"]["access_token"])

	res, err = c.Publish(context.Background(), acct, domain.Post{Text: "pic", ImageURL: "https://cdn.example.com/a.png", Target: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "p1_200", res.ID)
	assert.Equal(t, "https://cdn.example.com/a.png", stub.forms["/p1/photos"]["url"])

	_, err = c.Publish(context.Background(), acct, domain.Post{Text: "s3", ImageURL: "s3://bucket/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", stub.forms["/p1/photos"]["source"])
	assert.Equal(t, "s3", stub.forms["/p1/photos"]["caption"])
}

func TestPublish_NoPage(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Publish(context.Background(), &domain.SocialAccount{AccessToken: "long"}, domain.Post{Text: "x"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

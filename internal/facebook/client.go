// Package facebook implements the Facebook Login connection and page
// publishing against the Graph API.
package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httpretry"
	"github.com/ignite/outreach/internal/service/oauth"
	"github.com/ignite/outreach/internal/storage"
)

const DefaultAPIBaseURL = "https://graph.facebook.com/v19.0"

var defaultScopes = []string{"public_profile", "pages_show_list", "pages_manage_posts", "pages_read_engagement"}

// ImageSource loads image bytes for non-HTTP image URLs.
type ImageSource interface {
	Fetch(ctx context.Context, rawURL string) (*storage.Image, error)
}

// Client talks to the Graph API.
type Client struct {
	conf    *oauth2.Config
	apiBase string
	hc      *http.Client
	http    httpretry.HTTPDoer
	images  ImageSource
}

var (
	_ oauth.Provider   = (*Client)(nil)
	_ oauth.PageLister = (*Client)(nil)
)

// NewClient builds a client. redirectURL is the callback registered with the
// app; hc may be nil.
func NewClient(cfg config.ProviderConfig, redirectURL string, hc *http.Client, images ImageSource) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := facebook.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	base := cfg.APIBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		apiBase: strings.TrimRight(base, "/"),
		hc:      hc,
		http:    httpretry.NewRetryClient(hc, 2),
		images:  images,
	}
}

func (c *Client) Name() domain.Provider { return domain.ProviderFacebook }

func (c *Client) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state)
}

// Exchange trades the code for a short-lived token and then for a
// long-lived one.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth.Token, error) {
	tok, err := c.conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.hc), code)
	if err != nil {
		return nil, exchangeError(err)
	}

	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.conf.ClientID},
		"client_secret":     {c.conf.ClientSecret},
		"fb_exchange_token": {tok.AccessToken},
	}
	var long struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.get(ctx, "/oauth/access_token", q, &long); err != nil {
		return nil, err
	}
	out := &oauth.Token{AccessToken: long.AccessToken, Scopes: c.conf.Scopes}
	if long.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(long.ExpiresIn) * time.Second).UTC()
		out.ExpiresAt = &exp
	}
	return out, nil
}

func (c *Client) Identity(ctx context.Context, accessToken string) (*oauth.Identity, error) {
	var me struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	q := url.Values{"fields": {"id,name"}, "access_token": {accessToken}}
	if err := c.get(ctx, "/me", q, &me); err != nil {
		return nil, err
	}
	if me.ID == "" {
		return nil, &domain.ProviderError{Provider: "facebook", Status: http.StatusBadGateway, Message: "identity without id"}
	}
	return &oauth.Identity{ExternalID: me.ID, Name: me.Name}, nil
}

// Revoke removes every permission granted to the app.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	q := url.Values{"access_token": {accessToken}}
	return c.do(ctx, http.MethodDelete, "/me/permissions?"+q.Encode(), nil, "", nil)
}

func (c *Client) Pages(ctx context.Context, accessToken string) ([]domain.Page, error) {
	var resp struct {
		Data []domain.Page `json:"data"`
	}
	q := url.Values{"fields": {"id,name,category"}, "access_token": {accessToken}}
	if err := c.get(ctx, "/me/accounts", q, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Publish posts to the target page, or the account's selected page.
func (c *Client) Publish(ctx context.Context, acct *domain.SocialAccount, post domain.Post) (*domain.PublishResult, error) {
	pageID := post.Target
	if pageID == "" {
		pageID = acct.SelectedPageID
	}
	if pageID == "" {
		return nil, domain.Validation("no target page: pass target or select a page")
	}

	var page struct {
		AccessToken string `json:"access_token"`
	}
	q := url.Values{"fields": {"access_token"}, "access_token": {acct.AccessToken}}
	if err := c.get(ctx, "/"+url.PathEscape(pageID), q, &page); err != nil {
		return nil, err
	}
	if page.AccessToken == "" {
		return nil, domain.Validation("page %s is not managed by this account", pageID)
	}

	var created struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	switch {
	case post.ImageURL == "":
		form := url.Values{"message": {post.Text}, "access_token": {page.AccessToken}}
		err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(pageID)+"/feed",
			strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &created)
		if err != nil {
			return nil, err
		}
	case strings.HasPrefix(post.ImageURL, "http://") || strings.HasPrefix(post.ImageURL, "https://"):
		form := url.Values{"url": {post.ImageURL}, "caption": {post.Text}, "access_token": {page.AccessToken}}
		err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(pageID)+"/photos",
			strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &created)
		if err != nil {
			return nil, err
		}
	default:
		body, ctype, err := c.photoUpload(ctx, post, page.AccessToken)
		if err != nil {
			return nil, err
		}
		if err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(pageID)+"/photos", body, ctype, &created); err != nil {
			return nil, err
		}
	}

	id := created.PostID
	if id == "" {
		id = created.ID
	}
	if id == "" {
		return nil, &domain.ProviderError{Provider: "facebook", Status: http.StatusBadGateway, Message: "post created without id"}
	}
	return &domain.PublishResult{ID: id, Permalink: "https://www.facebook.com/" + id}, nil
}

// photoUpload builds a multipart body with the image bytes as "source".
func (c *Client) photoUpload(ctx context.Context, post domain.Post, pageToken string) (io.Reader, string, error) {
	if c.images == nil {
		return nil, "", domain.Validation("imageUrl scheme is not supported")
	}
	img, err := c.images.Fetch(ctx, post.ImageURL)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("caption", post.Text)
	_ = mw.WriteField("access_token", pageToken)
	fw, err := mw.CreateFormFile("source", "image")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path+"?"+q.Encode(), nil, "", out)
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, ctype string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	var doer httpretry.HTTPDoer = c.http
	if method == http.MethodPost {
		// creating posts is not idempotent
		doer = c.hc
	}
	resp, err := doer.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: "facebook", Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var ge graphError
		if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
			msg = ge.Error.Message
		}
		return &domain.ProviderError{Provider: "facebook", Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.ProviderError{Provider: "facebook", Status: http.StatusBadGateway, Message: "decode response: " + err.Error()}
	}
	return nil
}

// exchangeError maps oauth2 token endpoint failures.
func exchangeError(err error) error {
	if re, ok := err.(*oauth2.RetrieveError); ok && re.Response != nil {
		msg := re.ErrorDescription
		if msg == "" {
			msg = strings.TrimSpace(string(re.Body))
		}
		return &domain.ProviderError{Provider: "facebook", Status: re.Response.StatusCode, Message: msg}
	}
	return &domain.ProviderError{Provider: "facebook", Status: http.StatusBadGateway, Message: err.Error()}
}

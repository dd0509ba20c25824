// Package linkedin implements the LinkedIn member connection and UGC post
// publishing.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httpretry"
	"github.com/ignite/outreach/internal/service/oauth"
	"github.com/ignite/outreach/internal/storage"
)

const (
	DefaultAPIBaseURL = "https://api.linkedin.com"
	DefaultRevokeURL  = "https://www.linkedin.com/oauth/v2/revoke"

	uploadMechanism = "com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"
)

var defaultScopes = []string{"openid", "profile", "w_member_social"}

// ImageSource loads image bytes for uploads.
type ImageSource interface {
	Fetch(ctx context.Context, rawURL string) (*storage.Image, error)
}

// Client talks to the LinkedIn REST API.
type Client struct {
	conf      *oauth2.Config
	apiBase   string
	revokeURL string
	hc        *http.Client
	http      httpretry.HTTPDoer
	images    ImageSource
}

var _ oauth.Provider = (*Client)(nil)

// NewClient builds a client. hc may be nil.
func NewClient(cfg config.ProviderConfig, redirectURL string, hc *http.Client, images ImageSource) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := linkedin.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	base := cfg.APIBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	revoke := cfg.RevokeURL
	if revoke == "" {
		revoke = DefaultRevokeURL
	}
	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		apiBase:   strings.TrimRight(base, "/"),
		revokeURL: revoke,
		hc:        hc,
		http:      httpretry.NewRetryClient(hc, 2),
		images:    images,
	}
}

func (c *Client) Name() domain.Provider { return domain.ProviderLinkedIn }

func (c *Client) AuthCodeURL(state string) string { return c.conf.AuthCodeURL(state) }

func (c *Client) Exchange(ctx context.Context, code string) (*oauth.Token, error) {
	tok, err := c.conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.hc), code)
	if err != nil {
		if re, ok := err.(*oauth2.RetrieveError); ok && re.Response != nil {
			msg := re.ErrorDescription
			if msg == "" {
				msg = strings.TrimSpace(string(re.Body))
			}
			return nil, &domain.ProviderError{Provider: "linkedin", Status: re.Response.StatusCode, Message: msg}
		}
		return nil, &domain.ProviderError{Provider: "linkedin", Status: http.StatusBadGateway, Message: err.Error()}
	}
	out := &oauth.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Scopes: c.conf.Scopes}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		out.ExpiresAt = &exp
	}
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		out.Scopes = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	}
	return out, nil
}

// Identity reads the OpenID userinfo; sub is the member id.
func (c *Client) Identity(ctx context.Context, accessToken string) (*oauth.Identity, error) {
	var info struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, c.apiBase+"/v2/userinfo", accessToken, nil, &info, nil); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, &domain.ProviderError{Provider: "linkedin", Status: http.StatusBadGateway, Message: "userinfo without sub"}
	}
	return &oauth.Identity{ExternalID: info.Sub, Name: info.Name}, nil
}

func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{
		"client_id":     {c.conf.ClientID},
		"client_secret": {c.conf.ClientSecret},
		"token":         {accessToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &domain.ProviderError{Provider: "linkedin", Status: resp.StatusCode, Message: "revoke failed"}
	}
	return nil
}

// Publish creates a member post, uploading the image first when present.
func (c *Client) Publish(ctx context.Context, acct *domain.SocialAccount, post domain.Post) (*domain.PublishResult, error) {
	author := "urn:li:person:" + acct.ExternalID
	if post.Target != "" {
		author = post.Target
	}

	share := map[string]any{
		"shareCommentary":    map[string]any{"text": post.Text},
		"shareMediaCategory": "NONE",
	}
	if post.ImageURL != "" {
		asset, err := c.uploadImage(ctx, acct.AccessToken, author, post.ImageURL)
		if err != nil {
			return nil, err
		}
		share["shareMediaCategory"] = "IMAGE"
		share["media"] = []map[string]any{{"status": "READY", "media": asset}}
	}
	body := map[string]any{
		"author":          author,
		"lifecycleState":  "PUBLISHED",
		"specificContent": map[string]any{"com.linkedin.ugc.ShareContent": share},
		"visibility":      map[string]any{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}

	var created struct {
		ID string `json:"id"`
	}
	var hdr http.Header
	if err := c.do(ctx, http.MethodPost, c.apiBase+"/v2/ugcPosts", acct.AccessToken, body, &created, &hdr); err != nil {
		return nil, err
	}
	id := created.ID
	if id == "" {
		id = hdr.Get("X-RestLi-Id")
	}
	if id == "" {
		return nil, &domain.ProviderError{Provider: "linkedin", Status: http.StatusBadGateway, Message: "post created without id"}
	}
	return &domain.PublishResult{ID: id, Permalink: "https://www.linkedin.com/feed/update/" + id}, nil
}

func (c *Client) uploadImage(ctx context.Context, token, owner, imageURL string) (string, error) {
	if c.images == nil {
		return "", domain.Validation("image uploads are not configured")
	}
	img, err := c.images.Fetch(ctx, imageURL)
	if err != nil {
		return "", err
	}

	reg := map[string]any{
		"registerUploadRequest": map[string]any{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   owner,
			"serviceRelationships": []map[string]any{
				{"relationshipType": "OWNER", "identifier": "urn:li:userGeneratedContent"},
			},
		},
	}
	var out struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism map[string]struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodPost, c.apiBase+"/v2/assets?action=registerUpload", token, reg, &out, nil); err != nil {
		return "", err
	}
	uploadURL := out.Value.UploadMechanism[uploadMechanism].UploadURL
	if uploadURL == "" || out.Value.Asset == "" {
		return "", &domain.ProviderError{Provider: "linkedin", Status: http.StatusBadGateway, Message: "registerUpload returned no upload URL"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(img.Data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", img.ContentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &domain.ProviderError{Provider: "linkedin", Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return "", &domain.ProviderError{Provider: "linkedin", Status: resp.StatusCode, Message: "image upload failed"}
	}
	return out.Value.Asset, nil
}

type apiError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// do sends a JSON request with the bearer token. hdr, when set, receives the
// response headers.
func (c *Client) do(ctx context.Context, method, target, token string, in, out any, hdr *http.Header) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var doer httpretry.HTTPDoer = c.http
	if method == http.MethodPost {
		doer = c.hc
	}
	resp, err := doer.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: "linkedin", Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if hdr != nil {
		*hdr = resp.Header
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
			msg = ae.Message
		}
		return &domain.ProviderError{Provider: "linkedin", Status: resp.StatusCode, Message: msg}
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &domain.ProviderError{Provider: "linkedin", Status: http.StatusBadGateway, Message: "decode response: " + err.Error()}
		}
	}
	return nil
}

// Package storage loads post images from HTTP(S) URLs or S3 objects.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httpretry"
)

// ErrTooLarge is returned when an image exceeds the configured size.
var ErrTooLarge = errors.New("image exceeds size limit")

// Image is a fetched image body.
type Image struct {
	Data        []byte
	ContentType string
}

// ObjectGetter reads one S3 object.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, string, error)
}

// Fetcher resolves image URLs.
type Fetcher struct {
	http     httpretry.HTTPDoer
	s3       ObjectGetter
	maxBytes int64
	timeout  time.Duration
}

// NewFetcher returns a fetcher. s3 may be nil, in which case s3:// URLs are
// rejected.
func NewFetcher(doer httpretry.HTTPDoer, s3 ObjectGetter, maxBytes int64, timeout time.Duration) *Fetcher {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 1)
	}
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{http: doer, s3: s3, maxBytes: maxBytes, timeout: timeout}
}

// Fetch loads the image at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, domain.Validation("imageUrl is not a valid URL")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u.String())
	case "s3":
		if f.s3 == nil {
			return nil, domain.Validation("s3 image URLs are not enabled")
		}
		key := strings.TrimPrefix(u.Path, "/")
		if key == "" {
			return nil, domain.Validation("s3 imageUrl needs a key")
		}
		body, ctype, err := f.s3.GetObject(ctx, u.Host, key)
		if err != nil {
			return nil, fmt.Errorf("getting object from S3 bucket %s: %w", u.Host, err)
		}
		defer body.Close()
		return f.read(body, ctype)
	default:
		return nil, domain.Validation("imageUrl scheme must be http, https or s3")
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, target string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Validation("imageUrl returned status %d", resp.StatusCode)
	}
	return f.read(resp.Body, resp.Header.Get("Content-Type"))
}

func (f *Fetcher) read(r io.Reader, ctype string) (*Image, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image body: %w", err)
	}
	if n > f.maxBytes {
		return nil, ErrTooLarge
	}
	data := buf.Bytes()
	if ctype == "" || ctype == "application/octet-stream" {
		ctype = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ctype, "image/") {
		return nil, domain.Validation("imageUrl is not an image (%s)", ctype)
	}
	return &Image{Data: data, ContentType: ctype}, nil
}

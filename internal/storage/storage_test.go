package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

type fakeS3 struct {
	bucket, key string
	data        []byte
	err         error
}

func (f *fakeS3) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, string, error) {
	f.bucket, f.key = bucket, key
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(bytes.NewReader(f.data)), "", nil
}

func TestFetch_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngHeader)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	f := NewFetcher(srv.Client(), nil, 1024, time.Second)

	img, err := f.Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, pngHeader, img.Data)

	var verr *domain.ValidationError
	_, err = f.Fetch(context.Background(), srv.URL+"/page")
	assert.ErrorAs(t, err, &verr)
	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorAs(t, err, &verr)
}

func TestFetch_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(bytes.Repeat([]byte{1}, 100))
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), nil, 99, time.Second).Fetch(context.Background(), srv.URL+"/big.png")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetch_S3(t *testing.T) {
	s3 := &fakeS3{data: pngHeader}
	f := NewFetcher(nil, s3, 1024, time.Second)

	img, err := f.Fetch(context.Background(), "s3://media-bucket/posts/1.png")
	require.NoError(t, err)
	assert.Equal(t, "media-bucket", s3.bucket)
	assert.Equal(t, "posts/1.png", s3.key)
	assert.Equal(t, "image/png", img.ContentType)

	s3.err = errors.New("NoSuchKey")
	_, err = f.Fetch(context.Background(), "s3://media-bucket/posts/2.png")
	assert.ErrorContains(t, err, "NoSuchKey")
}

func TestFetch_RejectsSchemes(t *testing.T) {
	f := NewFetcher(nil, nil, 0, 0)
	var verr *domain.ValidationError
	for _, u := range []string{"ftp://x.com/a.png", "s3://bucket/key", "not a url", "file:///etc/passwd"} {
		_, err := f.Fetch(context.Background(), u)
		assert.ErrorAs(t, err, &verr, u)
	}
}

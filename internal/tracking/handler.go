// Package tracking serves the public open-pixel and click-redirect endpoints.
// It is mounted by the API server and by the standalone tracking binary.
package tracking

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/pkg/logger"
	trackingsvc "github.com/ignite/outreach/internal/service/tracking"
)

// 1x1 transparent PNG
var pixelPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

// Recorder records engagement. *trackingsvc.Service satisfies it.
type Recorder interface {
	RecordOpen(ctx context.Context, campaignID, token string) (bool, error)
	RecordClick(ctx context.Context, campaignID, token string) (bool, error)
}

// Handler serves /track/open and /track/click.
type Handler struct {
	rec      Recorder
	fallback string
}

// NewHandler creates a handler. fallback is the redirect used when a click
// carries no usable target.
func NewHandler(rec Recorder, fallback string) *Handler {
	return &Handler{rec: rec, fallback: fallback}
}

// Mount registers the tracking routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/track/open", h.HandleOpen)
	r.Get("/track/click", h.HandleClick)
}

// HandleOpen records an open and always answers with the pixel.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, err := h.rec.RecordOpen(r.Context(), q.Get("c"), q.Get("t")); err != nil {
		logger.Error("record open failed", "campaign_id", q.Get("c"), "error", err)
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelPNG)
}

// HandleClick records a click and always redirects, to the target when it is
// a safe absolute URL and to the fallback otherwise.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, err := h.rec.RecordClick(r.Context(), q.Get("c"), q.Get("t")); err != nil {
		logger.Error("record click failed", "campaign_id", q.Get("c"), "error", err)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, trackingsvc.SafeRedirect(q.Get("u"), h.fallback), http.StatusFound)
}

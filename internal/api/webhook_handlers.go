package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/delivery"
)

const maxWebhookBody = 1 << 20

// handleDeliveryWebhook parses a provider push and reconciles each event.
// Structurally valid payloads are acknowledged with 200 even when nothing
// matched; a failing event is logged and does not fail the request.
func (s *Server) handleDeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	parser, ok := s.parsers[name]
	if !ok {
		httputil.Error(w, http.StatusNotFound, httputil.CodeNotFound, "unknown webhook provider")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	events, err := parser.Parse(r.Context(), r.Header, body)
	switch {
	case errors.Is(err, delivery.ErrBadSignature):
		logger.Warn("webhook signature rejected", "provider", name)
		httputil.Error(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "invalid signature")
		return
	case errors.Is(err, delivery.ErrMalformed):
		logger.Warn("webhook malformed", "provider", name, "error", err)
		httputil.BadRequest(w, "malformed payload")
		return
	case err != nil:
		logger.Error("webhook processing failed", "provider", name, "error", err)
		httputil.Error(w, http.StatusBadGateway, httputil.CodeProviderError, "webhook could not be processed")
		return
	}

	matched := 0
	for _, ev := range events {
		ok, err := s.d.Reconciler.Apply(r.Context(), ev)
		if err != nil {
			logger.Error("delivery event failed", "provider", name, "kind", ev.Kind, "message_id", ev.MessageID, "error", err)
			continue
		}
		if ok {
			matched++
		}
	}
	httputil.OK(w, map[string]int{"received": len(events), "matched": matched})
}

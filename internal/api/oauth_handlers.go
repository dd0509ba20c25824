package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/auth"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
)

func providerParam(w http.ResponseWriter, r *http.Request) (domain.Provider, bool) {
	p, ok := domain.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		httputil.Error(w, http.StatusNotFound, httputil.CodeNotFound, "unknown provider")
	}
	return p, ok
}

// handleOAuthStart redirects the browser to the provider consent screen.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	consent, err := s.d.OAuth.Start(r.Context(), auth.UserID(r.Context()), p)
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, consent, http.StatusFound)
}

// handleOAuthCallback never answers with an error body. The browser is
// mid-redirect, so every outcome goes back to the app integrations page.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "provider")
	q := r.URL.Query()
	p, ok := domain.ParseProvider(raw)
	switch {
	case !ok:
		s.finishCallback(w, r, raw, "unknown_provider")
		return
	case q.Get("error") != "":
		logger.Info("oauth consent declined", "provider", p, "reason", q.Get("error"))
		s.finishCallback(w, r, raw, "access_denied")
		return
	}
	if _, err := s.d.OAuth.Callback(r.Context(), p, q.Get("code"), q.Get("state")); err != nil {
		logger.Warn("oauth callback failed", "provider", p, "error", err)
		s.finishCallback(w, r, raw, callbackReason(err))
		return
	}
	s.finishCallback(w, r, raw, "")
}

func (s *Server) finishCallback(w http.ResponseWriter, r *http.Request, provider, reason string) {
	v := url.Values{}
	v.Set("provider", provider)
	if reason == "" {
		v.Set("status", "connected")
	} else {
		v.Set("status", "error")
		v.Set("reason", reason)
	}
	target := strings.TrimRight(s.d.AppRedirectURL, "/") + "/integrations?" + v.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	if err := s.d.OAuth.Disconnect(r.Context(), auth.UserID(r.Context()), p); err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"ok": true})
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	st, err := s.d.OAuth.Status(r.Context(), auth.UserID(r.Context()), p)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, st)
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.d.OAuth.Pages(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if pages == nil {
		pages = []domain.Page{}
	}
	httputil.OK(w, map[string]any{"pages": pages})
}

func (s *Server) handleSelectPage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PageID string `json:"page_id"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.PageID == "" {
		httputil.BadRequest(w, "page_id is required")
		return
	}
	if err := s.d.OAuth.SelectPage(r.Context(), auth.UserID(r.Context()), body.PageID); err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"ok": true, "selected_page_id": body.PageID})
}

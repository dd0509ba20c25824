package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/auth"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/service/campaign"
)

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := s.d.Campaigns.Create(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.d.Campaigns.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.d.Campaigns.Stats(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, st)
}

func (s *Server) handleAddRecipients(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emails []string `json:"emails"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	res, err := s.d.Campaigns.AddRecipients(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), body.Emails)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// handleSendCampaign runs one batch. Per-recipient failures are reported in
// the summary; only request-level failures produce an error status.
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.SendInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	res, err := s.d.Campaigns.Send(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

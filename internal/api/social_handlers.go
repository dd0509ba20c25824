package api

import (
	"net/http"

	"github.com/ignite/outreach/internal/auth"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
)

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	p, ok := providerParam(w, r)
	if !ok {
		return
	}
	var post domain.Post
	if !httputil.Decode(w, r, &post) {
		return
	}
	res, err := s.d.Social.Publish(r.Context(), auth.UserID(r.Context()), p, post)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/auth"
	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/idempotency"
)

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	b, err := s.d.Wallet.Balance(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]int64{"balance": b})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.d.Wallet.Entries(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	httputil.OK(w, map[string]any{"entries": entries})
}

type creditRequest struct {
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	CorrelationID string `json:"correlation_id"`
	Note          string `json:"note"`
}

// handleAddCredits records an operator purchase. Replaying the same
// correlation id is a no-op.
func (s *Server) handleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Amount <= 0 {
		httputil.BadRequest(w, "user_id and a positive amount are required")
		return
	}
	corr := req.CorrelationID
	if corr == "" {
		corr = idempotency.Key(req.UserID, "wallet.purchase", uuid.NewString())
	}
	b, err := s.d.Wallet.Credit(r.Context(), req.UserID, req.Amount, domain.LedgerPurchase, corr, req.Note, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"balance": b, "correlation_id": corr})
}

package api

import (
	"errors"
	"net/http"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/service/oauth"
)

// writeError maps package-level sentinels that the domain taxonomy does not
// cover, then defers to httputil.WriteError. 5xx bodies never carry the
// internal error text.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oauth.ErrProviderDisabled):
		httputil.Error(w, http.StatusNotFound, httputil.CodeNotFound, "provider is not configured")
	case errors.Is(err, oauth.ErrPagesUnsupported):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.WriteError(w, err)
	}
}

// callbackReason is the short code carried on the post-consent redirect.
func callbackReason(err error) string {
	var (
		verr  *domain.ValidationError
		limit *domain.ChangeLimitExceededError
		perr  *domain.ProviderError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.As(err, &limit):
		return "change_limit"
	case errors.Is(err, oauth.ErrProviderDisabled):
		return "provider_disabled"
	case errors.As(err, &perr):
		return "provider_error"
	case errors.As(err, &verr):
		return "invalid_request"
	}
	return "internal"
}

package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// Error codes carried in the "error" field of the envelope.
const (
	CodeValidation          = "VALIDATION"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeChangeLimit         = "CHANGE_LIMIT"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidState        = "INVALID_STATE"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeInternal            = "INTERNAL"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("json encode failed", "error", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response with the given data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Error writes the envelope with an explicit status and code.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]any{"error": code, "message": message})
}

// BadRequest writes a 400 VALIDATION error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, CodeValidation, message)
}

// InternalError logs err and writes a generic 500.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// WriteError maps err onto the error envelope.
func WriteError(w http.ResponseWriter, err error) {
	var (
		verr   *domain.ValidationError
		credit *domain.InsufficientCreditsError
		limit  *domain.ChangeLimitExceededError
		perr   *domain.ProviderError
	)
	switch {
	case errors.As(err, &verr):
		code := verr.Code
		if code == "" {
			code = CodeValidation
		}
		Error(w, http.StatusBadRequest, code, verr.Message)
	case errors.As(err, &credit):
		JSON(w, http.StatusPaymentRequired, map[string]any{
			"error":    CodeInsufficientCredits,
			"message":  "not enough credits",
			"required": credit.Required,
			"balance":  credit.Balance,
		})
	case errors.As(err, &limit):
		JSON(w, http.StatusForbidden, map[string]any{
			"error":     CodeChangeLimit,
			"message":   limit.Error(),
			"remaining": limit.Remaining,
		})
	case errors.Is(err, domain.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		Error(w, http.StatusBadRequest, CodeInvalidState, err.Error())
	case errors.As(err, &perr):
		status := http.StatusBadGateway
		if perr.Rejected() {
			status = http.StatusBadRequest
		}
		logger.Warn("provider error", "provider", perr.Provider, "status", perr.Status, "error", perr.Message)
		Error(w, status, CodeProviderError, perr.Error())
	default:
		InternalError(w, err)
	}
}

// Decode reads JSON from the request body into dst. An empty body leaves dst
// untouched. Returns false and writes a 400 if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

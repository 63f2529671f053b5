// Package ingress is the HTTP surface (chi) for the Intake Service,
// notification queries, health, metrics and the realtime status feed.
package ingress

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dispatchctl/notifyd/internal/domain"
)

// Response is the uniform envelope every handler writes.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   &Error{Code: code, Message: message, Details: details},
	})
}

// HandleError maps domain sentinel/typed errors onto HTTP status codes.
func HandleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)

	case errors.Is(err, domain.ErrAlreadyExists):
		JSONError(w, http.StatusConflict, "ALREADY_EXISTS", "resource already exists", nil)

	case errors.Is(err, domain.ErrCannotCancel):
		JSONError(w, http.StatusBadRequest, "CANNOT_CANCEL", "notification cannot be cancelled", nil)

	case errors.Is(err, domain.ErrSubscriptionInvalid):
		JSONError(w, http.StatusForbidden, "SUBSCRIPTION_INACTIVE", "subscription is not active", nil)

	case errors.Is(err, domain.ErrIdempotencyReplay):
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "idempotency key already used", nil)

	default:
		var quotaErr domain.QuotaExceededError
		if errors.As(err, &quotaErr) {
			JSONError(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", err.Error(), map[string]any{
				"retry_after_seconds": quotaErr.RetryAfter.Seconds(),
			})
			return
		}

		var validationErr domain.ValidationError
		if errors.As(err, &validationErr) {
			JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Message, map[string]string{
				"field": validationErr.Field,
			})
			return
		}

		var validationErrs domain.ValidationErrors
		if errors.As(err, &validationErrs) {
			JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "validation failed", validationErrs.Errors)
			return
		}

		JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", nil)
	}
}

func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return domain.NewValidationError("body", "request body is required")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

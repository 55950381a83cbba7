package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/redeem"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, redeem.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case redeem.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, redeem.ErrSilenced):
		return http.StatusLocked, "silenced"
	case redeem.IsInconsistency(err):
		return http.StatusLocked, "needs_review"
	case redeem.IsConflict(err):
		return http.StatusConflict, "conflict"
	case redeem.IsTransient(err):
		return http.StatusServiceUnavailable, "unavailable"
	case redeem.IsActivationFailure(err):
		return http.StatusBadGateway, "activation_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

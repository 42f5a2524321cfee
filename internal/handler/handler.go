// Package handler implements the JSON API surface for invoice
// operations.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/middleware"
)

// errorCodeToHTTPStatus maps domain error codes to HTTP statuses.
func errorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respondError writes a structured { "error": message } payload.
// Internal detail stays in the log, never in the response body.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := errorCodeToHTTPStatus(code)

	logger := middleware.GetLogger(r.Context())
	event := logger.Info()
	if status >= 500 {
		event = logger.Error()
	}
	event.Err(err).Str("code", code).Int("status", status).Msg("request failed")

	respondJSON(w, status, map[string]string{"error": domain.ErrorMessage(err)})
}

// decodeJSON decodes and validates a request body.
func decodeJSON(r *http.Request, validate *validator.Validate, dst interface{}) error {
	const op = "http.decode"

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.WrapError(err, domain.EINVALID, op, "request body is not valid JSON")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.Errorf(domain.EINVALID, op, "invalid field %q", verrs[0].Field())
		}
		return domain.WrapError(err, domain.EINVALID, op, "request validation failed")
	}
	return nil
}

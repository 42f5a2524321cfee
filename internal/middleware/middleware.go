// Package middleware provides the HTTP middleware shared by every
// route: request IDs, request logging, metrics, and body/time limits.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/parkergs/tally/internal/domain"
)

type contextKey string

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

// respondWithError writes a structured JSON error without leaking
// internal detail. Used by middleware that rejects a request before it
// reaches a handler.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := errorCodeToHTTPStatus(code)

	logger := GetLogger(r.Context())
	logger.Error().
		Err(err).
		Str("code", code).
		Str("path", r.URL.Path).
		Str("method", r.Method).
		Int("status", status).
		Msg("request rejected")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": domain.ErrorMessage(err),
	})
}

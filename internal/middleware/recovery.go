package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/parkergs/tally/internal/domain"
)

// Recovery converts handler panics into 500 responses instead of
// killing the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger := GetLogger(r.Context())
				logger.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				respondWithError(w, r, domain.Errorf(domain.EINTERNAL, "http.recovery", "panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

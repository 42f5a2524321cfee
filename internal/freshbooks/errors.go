package freshbooks

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNoTokenSource is returned when an authenticated call is made
	// on a client constructed without a token source.
	ErrNoTokenSource = errors.New("freshbooks: no token source configured")
)

// APIError wraps a failed Freshbooks API call with its context.
type APIError struct {
	Op         string // operation, e.g. "invoice.create"
	StatusCode int    // HTTP status, 0 for transport failures
	Message    string // upstream message or status text
	Err        error  // underlying transport error, if any
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("freshbooks: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("freshbooks: %s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether the failure is likely transient:
// rate limiting, upstream 5xx, or a network timeout.
func (e *APIError) IsTemporary() bool {
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

package freshbooks

import (
	"errors"
	"time"
)

// Config contains configuration for the Freshbooks client.
type Config struct {
	// APIURL is the Freshbooks API base URL (e.g. https://api.freshbooks.com).
	APIURL string

	// AccountID is the Freshbooks accounting account identifier.
	AccountID string

	// ClientID and ClientSecret identify the OAuth application used
	// for the refresh-token exchange.
	ClientID     string
	ClientSecret string

	// RedirectURI is required by the token exchange endpoint even for
	// the refresh_token grant.
	RedirectURI string

	// FinanceEmail is the internal finance address copied on every
	// new-invoice notification.
	FinanceEmail string

	// Timeout bounds every API call. Default: 30s.
	Timeout time.Duration

	// InvoiceDefaults are applied to every created invoice.
	InvoiceDefaults InvoiceDefaults
}

// InvoiceDefaults holds the account-level invoice settings.
type InvoiceDefaults struct {
	// CurrencyCode is the ISO 4217 currency for amounts (e.g. "CAD").
	CurrencyCode string

	// Terms text printed on the invoice.
	Terms string

	// Template is the Freshbooks invoice template name.
	Template string

	// DueOffsetDays is how many days after creation the invoice is due.
	DueOffsetDays int

	// NumberPrefix is prepended to generated invoice numbers.
	NumberPrefix string

	// Presentation is the invoice theme sent with every payload.
	Presentation Presentation
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("freshbooks: API URL is required")
	}
	if c.AccountID == "" {
		return errors.New("freshbooks: account ID is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("freshbooks: client credentials are required")
	}
	return nil
}

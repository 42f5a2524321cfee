// Package freshbooks is a wire-level client for the Freshbooks
// accounting API: token exchange, customer lookup, invoice creation,
// invoice email delivery, and the paginated invoice listing.
package freshbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/parkergs/tally/internal/token"
)

// TokenSource supplies a valid bearer token for authenticated calls.
// Implemented by token.Refresher.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client talks to the Freshbooks API. A client constructed without a
// token source can only perform the token exchange; the refresher uses
// one such client, and every other consumer uses an authenticated one.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenSource
}

// NewClient creates a Freshbooks client. tokens may be nil for a
// client used only for the refresh-token exchange.
func NewClient(cfg Config, tokens TokenSource) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
	}, nil
}

// ExchangeRefreshToken swaps the current refresh token for a new
// access/refresh pair. The grant is single-use: exchanging the same
// refresh token twice invalidates the first exchange.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (token.Pair, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"refresh_token": refreshToken,
		"redirect_uri":  c.cfg.RedirectURI,
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.do(ctx, "token.exchange", http.MethodPost, "/auth/oauth/token", body, false, &result); err != nil {
		return token.Pair{}, err
	}

	return token.Pair{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken}, nil
}

// SearchCustomersByEmail returns the customer records whose primary
// email matches exactly. An empty slice is not an error.
func (c *Client) SearchCustomersByEmail(ctx context.Context, email string) ([]Customer, error) {
	q := url.Values{}
	q.Set("search[email]", email)

	var result struct {
		Clients []Customer `json:"clients"`
	}
	if err := c.doAccounting(ctx, "customer.search", http.MethodGet, "/users/clients", q, nil, &result); err != nil {
		return nil, err
	}
	return result.Clients, nil
}

// CustomerByID fetches one customer with its recent contacts.
// Returns nil, nil when the customer does not exist.
func (c *Client) CustomerByID(ctx context.Context, customerID int64) (*Customer, error) {
	q := url.Values{}
	q.Set("search[userid]", strconv.FormatInt(customerID, 10))
	q.Add("include[]", "recent_contacts")

	var result struct {
		Clients []Customer `json:"clients"`
	}
	if err := c.doAccounting(ctx, "customer.get", http.MethodGet, "/users/clients", q, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Clients) == 0 {
		return nil, nil
	}
	return &result.Clients[0], nil
}

// ListCustomers returns one page of the customer listing, optionally
// filtered by an email substring. Page size is fixed at the Freshbooks
// maximum of 100.
func (c *Client) ListCustomers(ctx context.Context, emailLike string, page int) (*CustomerPage, error) {
	q := url.Values{}
	q.Add("include[]", "recent_contacts")
	q.Set("search[email_like]", emailLike)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", "100")

	var result CustomerPage
	if err := c.doAccounting(ctx, "customer.list", http.MethodGet, "/users/clients", q, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateInvoice submits an invoice payload and returns the new
// invoice's identifier.
func (c *Client) CreateInvoice(ctx context.Context, inv *Invoice) (int64, error) {
	body := map[string]*Invoice{"invoice": inv}

	var result struct {
		Invoice struct {
			ID int64 `json:"id"`
		} `json:"invoice"`
	}
	if err := c.doAccounting(ctx, "invoice.create", http.MethodPost, "/invoices/invoices", nil, body, &result); err != nil {
		return 0, err
	}
	return result.Invoice.ID, nil
}

// EmailInvoice triggers delivery of an existing invoice to the
// request's recipients.
func (c *Client) EmailInvoice(ctx context.Context, invoiceID int64, email EmailRequest) error {
	body := map[string]EmailRequest{"invoice": email}
	path := fmt.Sprintf("/invoices/invoices/%d", invoiceID)
	return c.doAccounting(ctx, "invoice.email", http.MethodPut, path, nil, body, nil)
}

// InvoiceByNumber returns the invoice with the given number, or
// nil, nil when no invoice matches.
func (c *Client) InvoiceByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error) {
	q := url.Values{}
	q.Set("search[invoice_number]", invoiceNumber)

	var result struct {
		Invoices []Invoice `json:"invoices"`
	}
	if err := c.doAccounting(ctx, "invoice.find", http.MethodGet, "/invoices/invoices", q, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Invoices) == 0 {
		return nil, nil
	}
	return &result.Invoices[0], nil
}

// LatestInvoiceNumber returns the highest invoice number starting with
// prefix, or "" when none exists yet.
func (c *Client) LatestInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	q := url.Values{}
	q.Set("search[invoice_number_like]", prefix)
	q.Set("sort", "invoice_number_desc")
	q.Set("per_page", "1")

	var result struct {
		Invoices []Invoice `json:"invoices"`
	}
	if err := c.doAccounting(ctx, "invoice.latest_number", http.MethodGet, "/invoices/invoices", q, nil, &result); err != nil {
		return "", err
	}
	if len(result.Invoices) == 0 {
		return "", nil
	}
	return result.Invoices[0].InvoiceNumber, nil
}

// ListInvoicesParams select one page of the invoice listing. Exactly
// one of MinDate/MaxDate is used: MinDate when set, MaxDate otherwise.
type ListInvoicesParams struct {
	MinDate     string  // YYYY-MM-DD, optional
	MaxDate     string  // YYYY-MM-DD
	CustomerIDs []int64 // optional scoping to specific customers
	Page        int
}

// ListInvoices returns one page of the invoice listing with line items
// included. Page size is the Freshbooks maximum of 100; the response's
// Pages field is the authoritative total page count.
func (c *Client) ListInvoices(ctx context.Context, params ListInvoicesParams) (*InvoicePage, error) {
	q := url.Values{}
	if params.MinDate != "" {
		q.Set("search[date_min]", params.MinDate)
	} else {
		q.Set("search[date_max]", params.MaxDate)
	}
	for _, id := range params.CustomerIDs {
		q.Add("search[customerids][]", strconv.FormatInt(id, 10))
	}
	q.Add("include[]", "lines")
	q.Set("page", strconv.Itoa(params.Page))
	q.Set("per_page", "100")

	var result InvoicePage
	if err := c.doAccounting(ctx, "invoice.list", http.MethodGet, "/invoices/invoices", q, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// doAccounting issues an authenticated call under the account-scoped
// API prefix and unwraps the response envelope into result.
func (c *Client) doAccounting(ctx context.Context, op, method, path string, query url.Values, body interface{}, result interface{}) error {
	full := fmt.Sprintf("/accounting/account/%s%s", c.cfg.AccountID, path)
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	var envelope struct {
		Response struct {
			Result json.RawMessage `json:"result"`
		} `json:"response"`
	}
	if err := c.do(ctx, op, method, full, body, true, &envelope); err != nil {
		return err
	}
	if result == nil || envelope.Response.Result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Response.Result, result); err != nil {
		return &APIError{Op: op, Message: "decoding response", Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, authed bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &APIError{Op: op, Message: "encoding request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reader)
	if err != nil {
		return &APIError{Op: op, Message: "building request", Err: err}
	}
	req.Header.Set("Api-Version", "alpha")
	req.Header.Set("Content-Type", "application/json")

	if authed {
		if c.tokens == nil {
			return ErrNoTokenSource
		}
		tok, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: "reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &APIError{Op: op, StatusCode: resp.StatusCode, Message: "decoding response", Err: err}
		}
	}
	return nil
}

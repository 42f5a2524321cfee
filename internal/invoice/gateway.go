// Package invoice implements invoice creation, delivery, and summary
// aggregation on top of the Freshbooks client.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/freshbooks"
)

// Line item display names. Summary flattening matches on the leading
// category word, so these must keep their CPU/Volume/Image prefixes.
const (
	lineNameCPU    = "CPU (Core) / Hour:"
	lineNameVolume = "Volume (GB) / Hour:"
	lineNameImage  = "Image (GB) / Hour:"
)

const notesTemplate = "Cloud resource usage for %s %d.\nProject: %s\nDiscount: %s%%"

// AccountingClient is the slice of the Freshbooks API the gateway
// needs. Satisfied by *freshbooks.Client.
type AccountingClient interface {
	SearchCustomersByEmail(ctx context.Context, email string) ([]freshbooks.Customer, error)
	CustomerByID(ctx context.Context, customerID int64) (*freshbooks.Customer, error)
	CreateInvoice(ctx context.Context, inv *freshbooks.Invoice) (int64, error)
	EmailInvoice(ctx context.Context, invoiceID int64, email freshbooks.EmailRequest) error
	InvoiceByNumber(ctx context.Context, invoiceNumber string) (*freshbooks.Invoice, error)
	LatestInvoiceNumber(ctx context.Context, prefix string) (string, error)
}

// Gateway creates and emails invoices for usage reports.
type Gateway struct {
	client       AccountingClient
	defaults     freshbooks.InvoiceDefaults
	financeEmail string
	adminEmails  []string
	logger       zerolog.Logger

	now func() time.Time
}

// NewGateway constructs an invoice gateway. adminEmails are stripped
// from every outbound recipient list; financeEmail is always copied on
// new-invoice notifications.
func NewGateway(client AccountingClient, defaults freshbooks.InvoiceDefaults, financeEmail string, adminEmails []string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		client:       client,
		defaults:     defaults,
		financeEmail: financeEmail,
		adminEmails:  adminEmails,
		logger:       logger.With().Str("component", "invoice.gateway").Logger(),
		now:          time.Now,
	}
}

// SendInvoiceParams are the inputs for one invoice.
type SendInvoiceParams struct {
	// Recipients receive the invoice notification. The customer
	// account is resolved from these addresses.
	Recipients []string

	Report domain.UsageReport
	Price  domain.PriceSheet

	// InvoiceNumber overrides number generation when non-empty.
	InvoiceNumber string

	// CC addresses are added to the notification without being used
	// for customer resolution.
	CC []string

	// Tax, when set, is applied to every line item.
	Tax *domain.TaxConfig
}

// SendInvoice resolves the customer, builds and submits the invoice,
// and triggers its email delivery. Delivery failure is logged but does
// not fail the call since the invoice already exists upstream.
// Returns the created invoice's number.
func (g *Gateway) SendInvoice(ctx context.Context, params SendInvoiceParams) (string, error) {
	const op = "invoice.send"

	if len(params.Recipients) == 0 {
		return "", domain.Invalid(op, "at least one recipient email is required")
	}

	customer, err := g.resolveCustomer(ctx, params.Recipients)
	if err != nil {
		return "", err
	}

	number := params.InvoiceNumber
	if number == "" {
		number, err = g.nextInvoiceNumber(ctx)
		if err != nil {
			return "", err
		}
	}

	payload := g.buildPayload(customer.ID, number, params.Report, params.Price, params.Tax)

	invoiceID, err := g.client.CreateInvoice(ctx, payload)
	if err != nil {
		return "", wrapUpstream(err, domain.EPAYMENT, op, "invoice creation failed")
	}

	g.logger.Info().
		Str("project", params.Report.ProjectName).
		Str("invoice_number", number).
		Int64("invoice_id", invoiceID).
		Msg("invoice created")

	recipients := stripAdminEmails(params.Recipients, g.adminEmails)
	recipients = append(recipients, params.CC...)
	if g.financeEmail != "" {
		recipients = append(recipients, g.financeEmail)
	}

	email := freshbooks.EmailRequest{
		Subject:     fmt.Sprintf("Invoice %s: %s usage for %s %d", number, params.Report.ProjectName, params.Report.Month, params.Report.Year),
		Recipients:  recipients,
		ActionEmail: true,
	}
	if err := g.client.EmailInvoice(ctx, invoiceID, email); err != nil {
		g.logger.Error().Err(err).
			Str("invoice_number", number).
			Msg("invoice created but email delivery failed")
	}

	return number, nil
}

// EmailExistingInvoice re-sends the notification for an invoice that
// was created earlier. The target email must belong to the invoice's
// customer account (primary address or a recent contact).
func (g *Gateway) EmailExistingInvoice(ctx context.Context, email, invoiceNumber string) error {
	const op = "invoice.email_existing"

	if email == "" {
		return domain.Invalid(op, "email is required")
	}
	if invoiceNumber == "" {
		return domain.Invalid(op, "invoice number is required")
	}

	inv, err := g.client.InvoiceByNumber(ctx, invoiceNumber)
	if err != nil {
		return wrapUpstream(err, domain.EINTERNAL, op, "invoice lookup failed")
	}
	if inv == nil {
		return domain.NotFound(op, "invoice", invoiceNumber)
	}

	customer, err := g.client.CustomerByID(ctx, inv.CustomerID)
	if err != nil {
		return wrapUpstream(err, domain.EINTERNAL, op, "customer lookup failed")
	}
	if customer == nil {
		return domain.NotFound(op, "customer account", strconv.FormatInt(inv.CustomerID, 10))
	}
	if !customerHasEmail(customer, email) {
		return domain.Forbidden(op, "email is not associated with the invoice's customer account")
	}

	req := freshbooks.EmailRequest{
		Subject:     fmt.Sprintf("Invoice %s", invoiceNumber),
		Recipients:  []string{email},
		ActionEmail: true,
	}
	if err := g.client.EmailInvoice(ctx, inv.ID, req); err != nil {
		return wrapUpstream(err, domain.EINTERNAL, op, "email delivery failed")
	}

	g.logger.Info().
		Str("invoice_number", invoiceNumber).
		Str("recipient", email).
		Msg("invoice notification re-sent")
	return nil
}

// LastInvoiceNumber returns the most recent invoice number with the
// given prefix, or "" when none exists.
func (g *Gateway) LastInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	const op = "invoice.last_number"

	if prefix == "" {
		return "", domain.Invalid(op, "invoice prefix is required")
	}
	number, err := g.client.LatestInvoiceNumber(ctx, prefix)
	if err != nil {
		return "", wrapUpstream(err, domain.EINTERNAL, op, "invoice number lookup failed")
	}
	return number, nil
}

// resolveCustomer tries each recipient address in order and returns
// the first matching customer account.
func (g *Gateway) resolveCustomer(ctx context.Context, emails []string) (*freshbooks.Customer, error) {
	const op = "invoice.customer"

	for _, email := range emails {
		customers, err := g.client.SearchCustomersByEmail(ctx, email)
		if err != nil {
			return nil, wrapUpstream(err, domain.EINTERNAL, op, "customer search failed")
		}
		if len(customers) > 0 {
			return &customers[0], nil
		}
	}
	return nil, domain.NotFound(op, "customer account", strings.Join(emails, ", "))
}

// nextInvoiceNumber increments the numeric suffix of the latest
// invoice number under the configured prefix.
func (g *Gateway) nextInvoiceNumber(ctx context.Context) (string, error) {
	const op = "invoice.number"

	prefix := g.defaults.NumberPrefix
	latest, err := g.client.LatestInvoiceNumber(ctx, prefix)
	if err != nil {
		return "", wrapUpstream(err, domain.EINTERNAL, op, "invoice number lookup failed")
	}
	if latest == "" {
		return fmt.Sprintf("%s%07d", prefix, 1), nil
	}

	suffix := strings.TrimPrefix(latest, prefix)
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return "", domain.Internal(err, op, fmt.Sprintf("invoice number %q has a non-numeric suffix", latest))
	}
	return fmt.Sprintf("%s%0*d", prefix, len(suffix), n+1), nil
}

func (g *Gateway) buildPayload(customerID int64, number string, report domain.UsageReport, price domain.PriceSheet, tax *domain.TaxConfig) *freshbooks.Invoice {
	currency := g.defaults.CurrencyCode

	line := func(name string, qty, unitPrice, cost float64) freshbooks.LineItem {
		item := freshbooks.LineItem{
			Name:        name,
			Description: fmt.Sprintf("%s %d", report.Month, report.Year),
			Qty:         qty,
			UnitCost:    freshbooks.Amount{Amount: unitPrice, Code: currency},
			Amount:      freshbooks.Amount{Amount: cost, Code: currency},
		}
		if tax != nil {
			item.TaxName1 = tax.Name
			item.TaxAmount1 = tax.Amount
		}
		return item
	}

	presentation := g.defaults.Presentation
	return &freshbooks.Invoice{
		CreateDate:    g.now().Format("2006-01-02"),
		CurrencyCode:  currency,
		DiscountValue: price.Discount * 100,
		Notes:         fmt.Sprintf(notesTemplate, report.Month, report.Year, report.ProjectName, price.DiscountPercent()),
		InvoiceNumber: number,
		Template:      g.defaults.Template,
		Terms:         g.defaults.Terms,
		CustomerID:    customerID,
		DueOffsetDays: g.defaults.DueOffsetDays,
		Presentation:  &presentation,
		Lines: []freshbooks.LineItem{
			line(lineNameCPU, report.CPU, price.CPUPrice, report.CPUCost),
			line(lineNameVolume, report.Volume, price.VolumePrice, report.VolumeCost),
			line(lineNameImage, report.Image, price.ImagePrice, report.ImageCost),
		},
	}
}

// stripAdminEmails removes internal admin addresses from an outbound
// recipient list. Comparison is case-insensitive.
func stripAdminEmails(emails, adminEmails []string) []string {
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		admin := false
		for _, a := range adminEmails {
			if strings.EqualFold(email, a) {
				admin = true
				break
			}
		}
		if !admin {
			out = append(out, email)
		}
	}
	return out
}

func customerHasEmail(customer *freshbooks.Customer, email string) bool {
	if strings.EqualFold(customer.Email, email) {
		return true
	}
	for _, contact := range customer.RecentContacts {
		if strings.EqualFold(contact.Email, email) {
			return true
		}
	}
	return false
}

// wrapUpstream maps Freshbooks client failures to domain errors.
// Transient upstream failures become retry candidates regardless of
// the default code.
func wrapUpstream(err error, code, op, message string) error {
	var apiErr *freshbooks.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 401 {
			return domain.WrapError(err, domain.EUNAUTHORIZED, op, "accounting service rejected credentials")
		}
		if apiErr.IsTemporary() {
			return domain.Unavailable(err, op, message)
		}
	}
	return domain.WrapError(err, code, op, message)
}

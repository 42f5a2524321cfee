package invoice

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/freshbooks"
)

// datePattern is the accepted shape for summary date filters. A
// coarse pattern check first, then a calendar check so days like
// February 30th are rejected.
var datePattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])$`)

// ListingClient is the slice of the Freshbooks API the aggregator
// needs. Satisfied by *freshbooks.Client.
type ListingClient interface {
	ListInvoices(ctx context.Context, params freshbooks.ListInvoicesParams) (*freshbooks.InvoicePage, error)
	ListCustomers(ctx context.Context, emailLike string, page int) (*freshbooks.CustomerPage, error)
}

// Aggregator paginates the invoice listing and flattens invoices into
// normalized cost rows.
type Aggregator struct {
	client ListingClient
	logger zerolog.Logger

	now func() time.Time
}

func NewAggregator(client ListingClient, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		client: client,
		logger: logger.With().Str("component", "invoice.aggregator").Logger(),
		now:    time.Now,
	}
}

// Summary returns the flattened invoice rows visible to the requester.
// Admins see every invoice; non-admins are scoped to the customer
// accounts where their email is the primary address or a recent
// contact, and a requester with no account sees an empty result
// rather than an error.
//
// dateFilter, when non-empty, must be YYYY-MM-DD and selects invoices
// created on or after that date. When empty, everything up to today is
// returned.
func (a *Aggregator) Summary(ctx context.Context, dateFilter string, requester domain.User, isAdmin bool) ([]domain.SummaryRow, error) {
	const op = "summary.list"

	if dateFilter != "" {
		if err := validateDate(dateFilter); err != nil {
			return nil, err
		}
	}

	var customerIDs []int64
	if !isAdmin {
		ids, err := a.customerIDsFor(ctx, requester.Email)
		if err != nil {
			return nil, wrapUpstream(err, domain.EINTERNAL, op, "customer lookup failed")
		}
		if len(ids) == 0 {
			return []domain.SummaryRow{}, nil
		}
		customerIDs = ids
	}

	params := freshbooks.ListInvoicesParams{CustomerIDs: customerIDs}
	if dateFilter != "" {
		params.MinDate = dateFilter
	} else {
		params.MaxDate = a.now().Format("2006-01-02")
	}

	// The total page count is only known after the first response, so
	// start assuming one page and let the response correct it.
	var invoices []freshbooks.Invoice
	page, total := 1, 1
	for page <= total {
		params.Page = page
		resp, err := a.client.ListInvoices(ctx, params)
		if err != nil {
			return nil, wrapUpstream(err, domain.EINTERNAL, op, "invoice listing failed")
		}
		invoices = append(invoices, resp.Invoices...)
		total = resp.Pages
		page++
	}

	a.logger.Debug().
		Int("pages", total).
		Int("invoices", len(invoices)).
		Msg("invoice listing fetched")

	rows := make([]domain.SummaryRow, 0, len(invoices))
	for _, inv := range invoices {
		rows = append(rows, flattenInvoice(inv))
	}
	return rows, nil
}

// customerIDsFor pages through the customer listing filtered by the
// requester's email and keeps the accounts where that address is the
// primary email or a recent contact. The substring filter alone is too
// loose for access control, so every page is re-checked exactly.
func (a *Aggregator) customerIDsFor(ctx context.Context, email string) ([]int64, error) {
	var ids []int64
	page, total := 1, 1
	for page <= total {
		resp, err := a.client.ListCustomers(ctx, email, page)
		if err != nil {
			return nil, err
		}
		for i := range resp.Clients {
			if customerHasEmail(&resp.Clients[i], email) {
				ids = append(ids, resp.Clients[i].ID)
			}
		}
		total = resp.Pages
		page++
	}
	return ids, nil
}

// flattenInvoice reduces an invoice's line items to the three cost
// categories. A missing category contributes 0.0, never an error.
func flattenInvoice(inv freshbooks.Invoice) domain.SummaryRow {
	return domain.SummaryRow{
		Organization:  inv.Organization,
		Date:          inv.CreateDate,
		InvoiceNumber: inv.InvoiceNumber,
		PaymentStatus: inv.PaymentStatus,
		InvoiceStatus: inv.V3Status,
		CPUCost:       lineItemValue(inv.Lines, "CPU"),
		ImageCost:     lineItemValue(inv.Lines, "Image"),
		VolumeCost:    lineItemValue(inv.Lines, "Volume"),
		Discount:      inv.DiscountValue,
		Total:         inv.Amount.Amount,
	}
}

// lineItemValue returns the amount of the first line item whose name
// contains the category substring.
func lineItemValue(lines []freshbooks.LineItem, category string) float64 {
	for _, line := range lines {
		if strings.Contains(line.Name, category) {
			return line.Amount.Amount
		}
	}
	return 0.0
}

func validateDate(date string) error {
	const op = "summary.date"

	if !datePattern.MatchString(date) {
		return domain.Errorf(domain.EINVALID, op, "date must be YYYY-MM-DD, got %q", date)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.Errorf(domain.EINVALID, op, "date is not a valid calendar day: %s", date)
	}
	return nil
}

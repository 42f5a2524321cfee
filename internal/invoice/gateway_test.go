package invoice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/freshbooks"
)

// mockClient implements AccountingClient and ListingClient with
// overridable behavior per test.
type mockClient struct {
	searchFn       func(ctx context.Context, email string) ([]freshbooks.Customer, error)
	customerByIDFn func(ctx context.Context, customerID int64) (*freshbooks.Customer, error)
	createFn       func(ctx context.Context, inv *freshbooks.Invoice) (int64, error)
	emailFn        func(ctx context.Context, invoiceID int64, email freshbooks.EmailRequest) error
	byNumberFn     func(ctx context.Context, invoiceNumber string) (*freshbooks.Invoice, error)
	latestFn       func(ctx context.Context, prefix string) (string, error)
	listFn         func(ctx context.Context, params freshbooks.ListInvoicesParams) (*freshbooks.InvoicePage, error)
	customersFn    func(ctx context.Context, emailLike string, page int) (*freshbooks.CustomerPage, error)
}

func (m *mockClient) SearchCustomersByEmail(ctx context.Context, email string) ([]freshbooks.Customer, error) {
	return m.searchFn(ctx, email)
}

func (m *mockClient) CustomerByID(ctx context.Context, customerID int64) (*freshbooks.Customer, error) {
	return m.customerByIDFn(ctx, customerID)
}

func (m *mockClient) CreateInvoice(ctx context.Context, inv *freshbooks.Invoice) (int64, error) {
	return m.createFn(ctx, inv)
}

func (m *mockClient) EmailInvoice(ctx context.Context, invoiceID int64, email freshbooks.EmailRequest) error {
	return m.emailFn(ctx, invoiceID, email)
}

func (m *mockClient) InvoiceByNumber(ctx context.Context, invoiceNumber string) (*freshbooks.Invoice, error) {
	return m.byNumberFn(ctx, invoiceNumber)
}

func (m *mockClient) LatestInvoiceNumber(ctx context.Context, prefix string) (string, error) {
	return m.latestFn(ctx, prefix)
}

func (m *mockClient) ListInvoices(ctx context.Context, params freshbooks.ListInvoicesParams) (*freshbooks.InvoicePage, error) {
	return m.listFn(ctx, params)
}

func (m *mockClient) ListCustomers(ctx context.Context, emailLike string, page int) (*freshbooks.CustomerPage, error) {
	return m.customersFn(ctx, emailLike, page)
}

func testDefaults() freshbooks.InvoiceDefaults {
	return freshbooks.InvoiceDefaults{
		CurrencyCode:  "CAD",
		Terms:         "Payable within 30 days.",
		DueOffsetDays: 30,
		NumberPrefix:  "INV-",
	}
}

func testReport() domain.UsageReport {
	return domain.UsageReport{
		CPU:         720,
		Volume:      1440,
		Image:       96,
		CPUCost:     36.00,
		VolumeCost:  14.40,
		ImageCost:   0.96,
		Month:       "April",
		Year:        2021,
		ProjectName: "research-cluster",
	}
}

func testPrice() domain.PriceSheet {
	return domain.PriceSheet{
		CPUPrice:    0.05,
		VolumePrice: 0.01,
		ImagePrice:  0.01,
		Discount:    0.1,
	}
}

func newTestGateway(client *mockClient) *Gateway {
	g := NewGateway(client, testDefaults(), "finance@internal.example", []string{"admin@internal.example"}, zerolog.Nop())
	g.now = func() time.Time { return time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC) }
	return g
}

func TestSendInvoice(t *testing.T) {
	var created *freshbooks.Invoice
	var emailed freshbooks.EmailRequest
	client := &mockClient{
		searchFn: func(ctx context.Context, email string) ([]freshbooks.Customer, error) {
			if email == "alice@example.com" {
				return []freshbooks.Customer{{ID: 42, Email: email, Organization: "Acme"}}, nil
			}
			return nil, nil
		},
		latestFn: func(ctx context.Context, prefix string) (string, error) {
			return "INV-0000050", nil
		},
		createFn: func(ctx context.Context, inv *freshbooks.Invoice) (int64, error) {
			created = inv
			return 7001, nil
		},
		emailFn: func(ctx context.Context, invoiceID int64, email freshbooks.EmailRequest) error {
			assert.Equal(t, int64(7001), invoiceID)
			emailed = email
			return nil
		},
	}
	g := newTestGateway(client)

	number, err := g.SendInvoice(context.Background(), SendInvoiceParams{
		Recipients: []string{"admin@internal.example", "alice@example.com"},
		Report:     testReport(),
		Price:      testPrice(),
		CC:         []string{"lead@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-0000051", number)

	require.NotNil(t, created)
	assert.Equal(t, int64(42), created.CustomerID)
	assert.Equal(t, "2021-05-01", created.CreateDate)
	assert.Equal(t, "CAD", created.CurrencyCode)
	assert.InDelta(t, 10.0, created.DiscountValue, 1e-9)
	assert.Contains(t, created.Notes, "April 2021")
	assert.Contains(t, created.Notes, "research-cluster")
	assert.Contains(t, created.Notes, "10.0000%")

	require.Len(t, created.Lines, 3)
	assert.Equal(t, lineNameCPU, created.Lines[0].Name)
	assert.Equal(t, 720.0, created.Lines[0].Qty)
	assert.Equal(t, 0.05, created.Lines[0].UnitCost.Amount)
	assert.Equal(t, 36.00, created.Lines[0].Amount.Amount)
	assert.Equal(t, lineNameVolume, created.Lines[1].Name)
	assert.Equal(t, lineNameImage, created.Lines[2].Name)

	// Admin address stripped, CC and finance address appended.
	assert.Equal(t, []string{"alice@example.com", "lead@example.com", "finance@internal.example"}, emailed.Recipients)
	assert.True(t, emailed.ActionEmail)
}

func TestSendInvoice_CustomerNotFound(t *testing.T) {
	client := &mockClient{
		searchFn: func(ctx context.Context, email string) ([]freshbooks.Customer, error) {
			return nil, nil
		},
	}
	g := newTestGateway(client)

	_, err := g.SendInvoice(context.Background(), SendInvoiceParams{
		Recipients: []string{"nobody@example.com"},
		Report:     testReport(),
		Price:      testPrice(),
	})
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestSendInvoice_CreationFailure(t *testing.T) {
	client := &mockClient{
		searchFn: func(ctx context.Context, email string) ([]freshbooks.Customer, error) {
			return []freshbooks.Customer{{ID: 42}}, nil
		},
		createFn: func(ctx context.Context, inv *freshbooks.Invoice) (int64, error) {
			return 0, &freshbooks.APIError{Op: "invoice.create", StatusCode: 422, Message: "bad payload"}
		},
	}
	g := newTestGateway(client)

	_, err := g.SendInvoice(context.Background(), SendInvoiceParams{
		Recipients:    []string{"alice@example.com"},
		Report:        testReport(),
		Price:         testPrice(),
		InvoiceNumber: "INV-0000099",
	})
	require.Error(t, err)
	assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))
}

func TestSendInvoice_EmailFailureIsNotFatal(t *testing.T) {
	client := &mockClient{
		searchFn: func(ctx context.Context, email string) ([]freshbooks.Customer, error) {
			return []freshbooks.Customer{{ID: 42}}, nil
		},
		createFn: func(ctx context.Context, inv *freshbooks.Invoice) (int64, error) {
			return 7001, nil
		},
		emailFn: func(ctx context.Context, invoiceID int64, email freshbooks.EmailRequest) error {
			return errors.New("smtp relay down")
		},
	}
	g := newTestGateway(client)

	number, err := g.SendInvoice(context.Background(), SendInvoiceParams{
		Recipients:    []string{"alice@example.com"},
		Report:        testReport(),
		Price:         testPrice(),
		InvoiceNumber: "INV-0000099",
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-0000099", number)
}

func TestSendInvoice_NumberOverrideSkipsGeneration(t *testing.T) {
	client := &mockClient{
		searchFn: func(ctx context.Context, email string) ([]freshbooks.Customer, error) {
			return []freshbooks.Customer{{ID: 42}}, nil
		},
		latestFn: func(ctx context.Context, prefix string) (string, error) {
			t.Fatal("number generation should not run with an override")
			return "", nil
		},
		createFn: func(ctx context.Context, inv *freshbooks.Invoice) (int64, error) {
			assert.Equal(t, "INV-CUSTOM", inv.InvoiceNumber)
			return 7001, nil
		},
		emailFn: func(ctx context.Context, invoiceID int64, email freshbooks.EmailRequest) error {
			return nil
		},
	}
	g := newTestGateway(client)

	_, err := g.SendInvoice(context.Background(), SendInvoiceParams{
		Recipients:    []string{"alice@example.com"},
		Report:        testReport(),
		Price:         testPrice(),
		InvoiceNumber: "INV-CUSTOM",
	})
	require.NoError(t, err)
}

func TestEmailExistingInvoice_Validation(t *testing.T) {
	g := newTestGateway(&mockClient{})

	err := g.EmailExistingInvoice(context.Background(), "", "INV-0000051")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	err = g.EmailExistingInvoice(context.Background(), "alice@example.com", "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestEmailExistingInvoice_NotFound(t *testing.T) {
	client := &mockClient{
		byNumberFn: func(ctx context.Context, invoiceNumber string) (*freshbooks.Invoice, error) {
			return nil, nil
		},
	}
	g := newTestGateway(client)

	err := g.EmailExistingInvoice(context.Background(), "alice@example.com", "INV-MISSING")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestEmailExistingInvoice_ForbiddenForUnrelatedEmail(t *testing.T) {
	client := &mockClient{
		byNumberFn: func(ctx context.Context, invoiceNumber string) (*freshbooks.Invoice, error) {
			return &freshbooks.Invoice{ID: 7001, CustomerID: 42, InvoiceNumber: invoiceNumber}, nil
		},
		customerByIDFn: func(ctx context.Context, customerID int64) (*freshbooks.Customer, error) {
			return &freshbooks.Customer{
				ID:    42,
				Email: "owner@example.com",
				RecentContacts: []freshbooks.Contact{
					{Email: "accounting@example.com"},
				},
			}, nil
		},
	}
	g := newTestGateway(client)

	err := g.EmailExistingInvoice(context.Background(), "stranger@example.com", "INV-0000051")
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
}

func TestEmailExistingInvoice_ContactEmailAllowed(t *testing.T) {
	var emailed freshbooks.EmailRequest
	client := &mockClient{
		byNumberFn: func(ctx context.Context, invoiceNumber string) (*freshbooks.Invoice, error) {
			return &freshbooks.Invoice{ID: 7001, CustomerID: 42, InvoiceNumber: invoiceNumber}, nil
		},
		customerByIDFn: func(ctx context.Context, customerID int64) (*freshbooks.Customer, error) {
			return &freshbooks.Customer{
				ID:    42,
				Email: "owner@example.com",
				RecentContacts: []freshbooks.Contact{
					{Email: "Accounting@Example.com"},
				},
			}, nil
		},
		emailFn: func(ctx context.Context, invoiceID int64, email freshbooks.EmailRequest) error {
			emailed = email
			return nil
		},
	}
	g := newTestGateway(client)

	err := g.EmailExistingInvoice(context.Background(), "accounting@example.com", "INV-0000051")
	require.NoError(t, err)
	assert.Equal(t, []string{"accounting@example.com"}, emailed.Recipients)
	assert.True(t, emailed.ActionEmail)
}

func TestLastInvoiceNumber(t *testing.T) {
	client := &mockClient{
		latestFn: func(ctx context.Context, prefix string) (string, error) {
			assert.Equal(t, "INV-", prefix)
			return "INV-0000050", nil
		},
	}
	g := newTestGateway(client)

	number, err := g.LastInvoiceNumber(context.Background(), "INV-")
	require.NoError(t, err)
	assert.Equal(t, "INV-0000050", number)

	_, err = g.LastInvoiceNumber(context.Background(), "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestNextInvoiceNumber_FirstInvoice(t *testing.T) {
	client := &mockClient{
		latestFn: func(ctx context.Context, prefix string) (string, error) {
			return "", nil
		},
	}
	g := newTestGateway(client)

	number, err := g.nextInvoiceNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INV-0000001", number)
}

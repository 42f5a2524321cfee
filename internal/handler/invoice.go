package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/invoice"
)

// InvoiceGateway is the invoice side of the API surface.
// Satisfied by *invoice.Gateway.
type InvoiceGateway interface {
	SendInvoice(ctx context.Context, params invoice.SendInvoiceParams) (string, error)
	EmailExistingInvoice(ctx context.Context, email, invoiceNumber string) error
	LastInvoiceNumber(ctx context.Context, prefix string) (string, error)
}

// InvoiceSummarizer is the listing side of the API surface.
// Satisfied by *invoice.Aggregator.
type InvoiceSummarizer interface {
	Summary(ctx context.Context, dateFilter string, requester domain.User, isAdmin bool) ([]domain.SummaryRow, error)
}

// InvoiceHandler serves the invoice API routes.
type InvoiceHandler struct {
	gateway     InvoiceGateway
	summaries   InvoiceSummarizer
	adminEmails []string
	validate    *validator.Validate
	logger      zerolog.Logger
}

func NewInvoiceHandler(gateway InvoiceGateway, summaries InvoiceSummarizer, adminEmails []string, logger zerolog.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		gateway:     gateway,
		summaries:   summaries,
		adminEmails: adminEmails,
		validate:    validator.New(),
		logger:      logger.With().Str("component", "handler.invoice").Logger(),
	}
}

type emailNewInvoiceRequest struct {
	Emails        []string           `json:"emails" validate:"required,min=1,dive,email"`
	Report        domain.UsageReport `json:"report" validate:"required"`
	Price         domain.PriceSheet  `json:"price" validate:"required"`
	InvoiceNumber string             `json:"invoiceNumber"`
	User          domain.User        `json:"user" validate:"required"`
}

// EmailNewInvoice creates and emails an invoice. Admin only.
func (h *InvoiceHandler) EmailNewInvoice(w http.ResponseWriter, r *http.Request) {
	const op = "http.email_new_invoice"

	var req emailNewInvoiceRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.requireUser(req.User, op); err != nil {
		respondError(w, r, err)
		return
	}
	if !req.User.IsAdmin(h.adminEmails) {
		respondError(w, r, domain.Forbidden(op, "creating invoices requires an admin account"))
		return
	}

	number, err := h.gateway.SendInvoice(r.Context(), invoice.SendInvoiceParams{
		Recipients:    req.Emails,
		Report:        req.Report,
		Price:         req.Price,
		InvoiceNumber: req.InvoiceNumber,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"invoiceNumber": number})
}

type getAllInvoicesRequest struct {
	Date string      `json:"date"`
	User domain.User `json:"user" validate:"required"`
}

// GetAllInvoices returns the flattened invoice summary, scoped by the
// requester's authorization level. Accepts GET with query parameters
// and POST with a JSON body.
func (h *InvoiceHandler) GetAllInvoices(w http.ResponseWriter, r *http.Request) {
	const op = "http.get_all_invoices"

	var req getAllInvoicesRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, h.validate, &req); err != nil {
			respondError(w, r, err)
			return
		}
	} else {
		q := r.URL.Query()
		req.Date = q.Get("date")
		req.User = domain.User{Username: q.Get("username"), Email: q.Get("email")}
	}
	if err := h.requireUser(req.User, op); err != nil {
		respondError(w, r, err)
		return
	}

	rows, err := h.summaries.Summary(r.Context(), req.Date, req.User, req.User.IsAdmin(h.adminEmails))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"invoices": rows})
}

// EmailInvoice re-sends an existing invoice's notification. Allowed
// for admins and for requesters resending to their own address; the
// gateway additionally checks the address against the invoice's
// customer account.
func (h *InvoiceHandler) EmailInvoice(w http.ResponseWriter, r *http.Request) {
	const op = "http.email_invoice"

	q := r.URL.Query()
	email := q.Get("email")
	invoiceNumber := q.Get("invoice")
	user := domain.User{Username: q.Get("username"), Email: q.Get("requester")}

	if err := h.requireUser(user, op); err != nil {
		respondError(w, r, err)
		return
	}
	if !user.IsAdmin(h.adminEmails) && !strings.EqualFold(user.Email, email) {
		respondError(w, r, domain.Forbidden(op, "only admins may resend invoices to other addresses"))
		return
	}

	if err := h.gateway.EmailExistingInvoice(r.Context(), email, invoiceNumber); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// GetLastInvoiceNumber returns the latest invoice number under a
// prefix. Admin only.
func (h *InvoiceHandler) GetLastInvoiceNumber(w http.ResponseWriter, r *http.Request) {
	const op = "http.last_invoice_number"

	q := r.URL.Query()
	user := domain.User{Username: q.Get("username"), Email: q.Get("email")}

	if err := h.requireUser(user, op); err != nil {
		respondError(w, r, err)
		return
	}
	if !user.IsAdmin(h.adminEmails) {
		respondError(w, r, domain.Forbidden(op, "invoice numbering is admin only"))
		return
	}

	number, err := h.gateway.LastInvoiceNumber(r.Context(), q.Get("invoicePrefix"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"invoiceNumber": number})
}

// Health reports process liveness.
func (h *InvoiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *InvoiceHandler) requireUser(user domain.User, op string) error {
	if user.Username == "" && user.Email == "" {
		return domain.Unauthorized(op, "a requesting user is required")
	}
	return nil
}

// Package routes wires handlers onto the router with the shared
// middleware chain.
package routes

import (
	"github.com/rs/zerolog"

	"github.com/parkergs/tally/internal/handler"
	"github.com/parkergs/tally/internal/middleware"
	"github.com/parkergs/tally/internal/router"
)

// Deps carries everything route registration needs.
type Deps struct {
	Invoices *handler.InvoiceHandler
	Metrics  *middleware.Metrics
	Logger   zerolog.Logger

	// CORSOrigins allow the dashboard origin(s). Empty disables CORS.
	CORSOrigins []string
}

// New builds the fully wired router.
func New(deps Deps) *router.Router {
	global := []router.Middleware{
		middleware.RequestID,
		middleware.WithRequestLogger(deps.Logger),
		middleware.Recovery,
		middleware.AccessLog,
	}
	if deps.Metrics != nil {
		global = append(global, deps.Metrics.Middleware)
	}
	if len(deps.CORSOrigins) > 0 {
		global = append(global, router.CORS(deps.CORSOrigins))
	}

	r := router.New(global...)

	r.Get("/health", deps.Invoices.Health)
	if deps.Metrics != nil {
		r.Handle("GET", "/metrics", deps.Metrics.Handler())
	}

	api := r.Group(
		middleware.MaxBodySize(middleware.DefaultMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
	)
	api.Post("/invoice/emailNewInvoice", deps.Invoices.EmailNewInvoice)
	api.Get("/invoice/getAllInvoices", deps.Invoices.GetAllInvoices)
	api.Post("/invoice/getAllInvoices", deps.Invoices.GetAllInvoices)
	api.Get("/invoice/emailInvoice", deps.Invoices.EmailInvoice)
	api.Get("/invoice/getLastInvoiceNumber", deps.Invoices.GetLastInvoiceNumber)

	return r
}

package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/parkergs/tally/internal"
	"github.com/parkergs/tally/internal/freshbooks"
	"github.com/parkergs/tally/internal/handler"
	"github.com/parkergs/tally/internal/invoice"
	"github.com/parkergs/tally/internal/middleware"
	"github.com/parkergs/tally/internal/routes"
	"github.com/parkergs/tally/internal/token"
)

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := internal.NewConfig(*configPath)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// The token store must load cleanly before anything serves. A
	// missing or malformed token file is unrecoverable at runtime.
	store, err := token.NewStore(cfg.TokenFile)
	if err != nil {
		return fmt.Errorf("opening token store: %w", err)
	}

	exchange, err := freshbooks.NewClient(cfg.Freshbooks, nil)
	if err != nil {
		return fmt.Errorf("initializing freshbooks exchange client: %w", err)
	}

	refresher, err := token.NewRefresher(store, exchange, logger)
	if err != nil {
		return fmt.Errorf("loading token record: %w", err)
	}

	fb, err := freshbooks.NewClient(cfg.Freshbooks, refresher)
	if err != nil {
		return fmt.Errorf("initializing freshbooks client: %w", err)
	}

	gateway := invoice.NewGateway(fb, cfg.Freshbooks.InvoiceDefaults, cfg.Freshbooks.FinanceEmail, cfg.Admin.Emails, logger)
	aggregator := invoice.NewAggregator(fb, logger)

	r := routes.New(routes.Deps{
		Invoices: handler.NewInvoiceHandler(gateway, aggregator, cfg.Admin.Emails, logger),
		Metrics:  middleware.NewMetrics("tally"),
		Logger:   logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info().Str("address", addr).Str("env", cfg.Env).Msg("starting invoice API server")

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

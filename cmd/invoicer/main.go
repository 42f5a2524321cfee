// Command invoicer runs the monthly billing cycle: it pulls usage and
// prices from the billing API, creates and emails one invoice per
// eligible project, and writes a summary CSV for the period.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/parkergs/tally/internal"
	"github.com/parkergs/tally/internal/billingapi"
	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/freshbooks"
	"github.com/parkergs/tally/internal/invoice"
	"github.com/parkergs/tally/internal/orchestrator"
	"github.com/parkergs/tally/internal/token"
)

func run() error {
	configPath := flag.String("config", "", "path to config file")
	year := flag.Int("year", 0, "billing year (default: previous month)")
	month := flag.Int("month", 0, "billing month 1-12 (default: previous month)")
	projects := flag.String("projects", "", "comma-separated project names to bill (default: all)")
	flag.Parse()

	cfg, err := internal.NewConfig(*configPath)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

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

	billing, err := billingapi.NewClient(cfg.Billing)
	if err != nil {
		return fmt.Errorf("initializing billing client: %w", err)
	}

	gateway := invoice.NewGateway(fb, cfg.Freshbooks.InvoiceDefaults, cfg.Freshbooks.FinanceEmail, cfg.Admin.Emails, logger)
	aggregator := invoice.NewAggregator(fb, logger)

	runner := orchestrator.NewRunner(billing, gateway, aggregator, orchestrator.Options{
		Concurrency: cfg.Run.Concurrency,
		OutputDir:   cfg.Run.OutputDir,
		CC:          cfg.Run.CC,
		Tax:         cfg.Run.Tax(),
		ServiceUser: domain.User{Username: "invoicer", Email: cfg.Freshbooks.FinanceEmail},
	}, logger)

	result, err := runner.Run(context.Background(), orchestrator.RunParams{
		Year:     *year,
		Month:    *month,
		Projects: parseProjects(*projects),
	})
	if err != nil {
		return fmt.Errorf("billing run failed: %w", err)
	}

	logger.Info().
		Int("year", result.Year).
		Int("month", result.Month).
		Int("dispatched", result.Dispatched).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Str("summary", result.SummaryPath).
		Msg("billing run finished")

	if result.Failed > 0 {
		return fmt.Errorf("%d project(s) failed: %v", result.Failed, result.FailedProjects)
	}
	return nil
}

// parseProjects splits the -projects flag. Empty or "ALL" means every
// eligible project.
func parseProjects(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "ALL") {
		return nil
	}
	var names []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// Package orchestrator drives the monthly billing run: it fans
// invoice creation out across every eligible project, tolerates
// per-project failure, and produces one summary export after all
// projects have settled.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/parkergs/tally/internal/billingapi"
	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/invoice"
)

// BillingClient is the slice of the billing API the runner needs.
// Satisfied by *billingapi.Client.
type BillingClient interface {
	Login(ctx context.Context) error
	Projects(ctx context.Context) ([]billingapi.ProjectUser, error)
	Price(ctx context.Context, projectID string, year, month int) (domain.PriceSheet, error)
	MonthlyReport(ctx context.Context, projectID string, year, month int) (domain.UsageReport, error)
}

// InvoiceSender creates and emails one invoice.
// Satisfied by *invoice.Gateway.
type InvoiceSender interface {
	SendInvoice(ctx context.Context, params invoice.SendInvoiceParams) (string, error)
}

// Summarizer produces the flattened invoice rows for the period.
// Satisfied by *invoice.Aggregator.
type Summarizer interface {
	Summary(ctx context.Context, dateFilter string, requester domain.User, isAdmin bool) ([]domain.SummaryRow, error)
}

// Options configure a billing run.
type Options struct {
	// Concurrency caps how many projects are invoiced at once.
	// Default: 4.
	Concurrency int

	// OutputDir receives the summary CSV. Default: current directory.
	OutputDir string

	// CC addresses are added to every invoice notification.
	CC []string

	// Tax, when set, is applied to every invoice line item.
	Tax *domain.TaxConfig

	// ServiceUser identifies the run in the summary query.
	ServiceUser domain.User
}

// Runner executes monthly billing runs.
type Runner struct {
	billing   BillingClient
	invoices  InvoiceSender
	summaries Summarizer
	opts      Options
	logger    zerolog.Logger

	now func() time.Time
}

func NewRunner(billing BillingClient, invoices InvoiceSender, summaries Summarizer, opts Options, logger zerolog.Logger) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}

	return &Runner{
		billing:   billing,
		invoices:  invoices,
		summaries: summaries,
		opts:      opts,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Result reports how a run went. A run with failures is still a
// completed run; callers decide whether partial success is acceptable.
type Result struct {
	Year       int
	Month      int
	Dispatched int
	Succeeded  int
	Failed     int

	// FailedProjects names the projects whose invoice was not created.
	FailedProjects []string

	// SummaryPath is the written CSV export.
	SummaryPath string
}

// RunParams select the billing period and, optionally, a subset of
// projects. Zero Year/Month select the previous calendar month; an
// empty Projects list bills every eligible project.
type RunParams struct {
	Year  int
	Month int

	// Projects restricts the run to the named projects, so one failed
	// project can be re-billed without touching the rest.
	Projects []string
}

// Run bills the selected projects for the given month. One project's
// failure never blocks another's, and the summary export runs exactly
// once after every project has settled.
func (r *Runner) Run(ctx context.Context, params RunParams) (*Result, error) {
	year, month := params.Year, params.Month
	if year == 0 || month == 0 {
		year, month = previousMonth(r.nowFn()())
	}
	monthName := time.Month(month).String()

	logger := r.logger.With().Int("year", year).Int("month", month).Logger()
	logger.Info().Msg("starting billing run")

	if err := r.billing.Login(ctx); err != nil {
		return nil, err
	}

	rows, err := r.billing.Projects(ctx)
	if err != nil {
		return nil, err
	}

	projects := mergeProjectUsers(rows)
	projects = filterProjects(projects, params.Projects)
	logger.Info().
		Int("project_users", len(rows)).
		Int("eligible_projects", len(projects)).
		Msg("resolved eligible projects")

	var succeeded, failed atomic.Int32
	var mu sync.Mutex
	var failedProjects []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, project := range projects {
		g.Go(func() error {
			if err := r.billProject(gctx, project, year, month, monthName); err != nil {
				failed.Add(1)
				mu.Lock()
				failedProjects = append(failedProjects, project.ProjectName)
				mu.Unlock()
				logger.Error().Err(err).
					Str("project", project.ProjectName).
					Msg("project billing failed")
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	// Workers always return nil so one failure never cancels siblings.
	_ = g.Wait()

	logger.Info().
		Int32("succeeded", succeeded.Load()).
		Int32("failed", failed.Load()).
		Msg("billing fan-out settled")

	summaryPath, err := r.writeSummary(ctx, year, month)
	if err != nil {
		logger.Error().Err(err).Msg("summary export failed")
	}

	return &Result{
		Year:           year,
		Month:          month,
		Dispatched:     len(projects),
		Succeeded:      int(succeeded.Load()),
		Failed:         int(failed.Load()),
		FailedProjects: failedProjects,
		SummaryPath:    summaryPath,
	}, nil
}

func (r *Runner) billProject(ctx context.Context, project domain.Project, year, month int, monthName string) error {
	report, err := r.billing.MonthlyReport(ctx, project.ProjectID, year, month)
	if err != nil {
		return err
	}
	report.Month = monthName
	report.Year = year
	report.ProjectName = project.ProjectName

	price, err := r.billing.Price(ctx, project.ProjectID, year, month)
	if err != nil {
		return err
	}

	_, err = r.invoices.SendInvoice(ctx, invoice.SendInvoiceParams{
		Recipients: project.Emails,
		Report:     report,
		Price:      price,
		CC:         r.opts.CC,
		Tax:        r.opts.Tax,
	})
	return err
}

// writeSummary exports the period's invoices once, after fan-out.
// It always runs so operators see partial results even when some
// projects failed.
func (r *Runner) writeSummary(ctx context.Context, year, month int) (string, error) {
	since := fmt.Sprintf("%04d-%02d-01", year, month)
	rows, err := r.summaries.Summary(ctx, since, r.opts.ServiceUser, true)
	if err != nil {
		return "", err
	}

	path := filepath.Join(r.opts.OutputDir, fmt.Sprintf("invoices-%04d-%02d.csv", year, month))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := invoice.WriteSummaryCSV(f, rows); err != nil {
		return "", err
	}
	r.logger.Info().Str("path", path).Int("rows", len(rows)).Msg("summary exported")
	return path, nil
}

// mergeProjectUsers folds the per-user billing rows into one project
// per project ID with all notification emails merged. Rows without an
// email do not make their project eligible on their own.
func mergeProjectUsers(rows []billingapi.ProjectUser) []domain.Project {
	index := make(map[string]int)
	var projects []domain.Project

	for _, row := range rows {
		email := strings.TrimSpace(row.Email)
		i, ok := index[row.ProjectID]
		if !ok {
			index[row.ProjectID] = len(projects)
			projects = append(projects, domain.Project{
				ProjectID:   row.ProjectID,
				ProjectName: row.ProjectName,
				UserID:      row.UserID,
			})
			i = len(projects) - 1
		}
		if email != "" && !containsFold(projects[i].Emails, email) {
			projects[i].Emails = append(projects[i].Emails, email)
		}
	}

	eligible := projects[:0]
	for _, p := range projects {
		if len(p.Emails) > 0 {
			eligible = append(eligible, p)
		}
	}
	return eligible
}

// filterProjects restricts the run to the named projects. An empty
// name list keeps everything.
func filterProjects(projects []domain.Project, names []string) []domain.Project {
	if len(names) == 0 {
		return projects
	}

	kept := projects[:0]
	for _, p := range projects {
		if containsFold(names, p.ProjectName) {
			kept = append(kept, p)
		}
	}
	return kept
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// previousMonth works from the first of the month so month-end dates
// never normalize forward (AddDate on March 31 lands in March again).
func previousMonth(now time.Time) (int, int) {
	t := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
	return t.Year(), int(t.Month())
}

func (r *Runner) nowFn() func() time.Time {
	if r.now != nil {
		return r.now
	}
	return time.Now
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkergs/tally/internal/billingapi"
	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/invoice"
)

type fakeBilling struct {
	rows         []billingapi.ProjectUser
	loggedIn     atomic.Bool
	pricePeriods sync.Map
}

func (f *fakeBilling) Login(ctx context.Context) error {
	f.loggedIn.Store(true)
	return nil
}

func (f *fakeBilling) Projects(ctx context.Context) ([]billingapi.ProjectUser, error) {
	return f.rows, nil
}

func (f *fakeBilling) Price(ctx context.Context, projectID string, year, month int) (domain.PriceSheet, error) {
	f.pricePeriods.Store(projectID, fmt.Sprintf("%d-%02d", year, month))
	return domain.PriceSheet{CPUPrice: 0.05, Discount: 0.1}, nil
}

func (f *fakeBilling) MonthlyReport(ctx context.Context, projectID string, year, month int) (domain.UsageReport, error) {
	return domain.UsageReport{CPU: 100, CPUCost: 5}, nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []invoice.SendInvoiceParams
	failOn string
}

func (f *fakeSender) SendInvoice(ctx context.Context, params invoice.SendInvoiceParams) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, params)
	f.mu.Unlock()
	if params.Report.ProjectName == f.failOn {
		return "", domain.Errorf(domain.EPAYMENT, "invoice.send", "invoice creation failed")
	}
	return "INV-0000051", nil
}

type fakeSummarizer struct {
	calls atomic.Int32
	rows  []domain.SummaryRow
}

func (f *fakeSummarizer) Summary(ctx context.Context, dateFilter string, requester domain.User, isAdmin bool) ([]domain.SummaryRow, error) {
	f.calls.Add(1)
	return f.rows, nil
}

func projectRows(n int) []billingapi.ProjectUser {
	rows := make([]billingapi.ProjectUser, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, billingapi.ProjectUser{
			ProjectID:   fmt.Sprintf("p%d", i),
			ProjectName: fmt.Sprintf("project-%d", i),
			UserID:      fmt.Sprintf("u%d", i),
			Email:       fmt.Sprintf("owner%d@example.com", i),
		})
	}
	return rows
}

func TestRun_FanOutCompletion(t *testing.T) {
	billing := &fakeBilling{rows: projectRows(5)}
	sender := &fakeSender{failOn: "project-3"}
	summarizer := &fakeSummarizer{rows: []domain.SummaryRow{{InvoiceNumber: "INV-0000051"}}}

	runner := NewRunner(billing, sender, summarizer, Options{
		OutputDir:   t.TempDir(),
		ServiceUser: domain.User{Username: "billing-bot", Email: "bot@internal.example"},
	}, zerolog.Nop())

	result, err := runner.Run(context.Background(), RunParams{Year: 2021, Month: 4})
	require.NoError(t, err)

	assert.True(t, billing.loggedIn.Load())
	assert.Equal(t, 5, result.Dispatched)
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"project-3"}, result.FailedProjects)

	// Every project attempted despite the failure.
	assert.Len(t, sender.sent, 5)

	// Summary ran exactly once, after fan-out.
	assert.Equal(t, int32(1), summarizer.calls.Load())

	data, err := os.ReadFile(result.SummaryPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INV-0000051")
	assert.Equal(t, filepath.Join(filepath.Dir(result.SummaryPath), "invoices-2021-04.csv"), result.SummaryPath)
}

func TestRun_ReportFieldsFilledIn(t *testing.T) {
	billing := &fakeBilling{rows: projectRows(1)}
	sender := &fakeSender{}
	summarizer := &fakeSummarizer{}

	runner := NewRunner(billing, sender, summarizer, Options{OutputDir: t.TempDir()}, zerolog.Nop())

	_, err := runner.Run(context.Background(), RunParams{Year: 2021, Month: 4})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	report := sender.sent[0].Report
	assert.Equal(t, "April", report.Month)
	assert.Equal(t, 2021, report.Year)
	assert.Equal(t, "project-1", report.ProjectName)
	assert.Equal(t, []string{"owner1@example.com"}, sender.sent[0].Recipients)

	period, ok := billing.pricePeriods.Load("p1")
	require.True(t, ok)
	assert.Equal(t, "2021-04", period, "price lookup carries the billing period")
}

func TestRun_DefaultsToPreviousMonth(t *testing.T) {
	tests := []struct {
		now       time.Time
		wantYear  int
		wantMonth int
	}{
		{time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC), 2020, 12},
		// Month-end dates must not normalize forward past the target month.
		{time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC), 2021, 2},
		{time.Date(2021, 5, 31, 23, 59, 0, 0, time.UTC), 2021, 4},
		{time.Date(2021, 7, 31, 0, 0, 0, 0, time.UTC), 2021, 6},
	}

	for _, tt := range tests {
		t.Run(tt.now.Format("2006-01-02"), func(t *testing.T) {
			billing := &fakeBilling{}
			runner := NewRunner(billing, &fakeSender{}, &fakeSummarizer{}, Options{OutputDir: t.TempDir()}, zerolog.Nop())
			runner.now = func() time.Time { return tt.now }

			result, err := runner.Run(context.Background(), RunParams{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantYear, result.Year)
			assert.Equal(t, tt.wantMonth, result.Month)
		})
	}
}

func TestRun_ProjectFilter(t *testing.T) {
	billing := &fakeBilling{rows: projectRows(4)}
	sender := &fakeSender{}
	runner := NewRunner(billing, sender, &fakeSummarizer{}, Options{OutputDir: t.TempDir()}, zerolog.Nop())

	result, err := runner.Run(context.Background(), RunParams{
		Year:     2021,
		Month:    4,
		Projects: []string{"Project-2", "project-4"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Dispatched)
	require.Len(t, sender.sent, 2)
	names := []string{sender.sent[0].Report.ProjectName, sender.sent[1].Report.ProjectName}
	assert.ElementsMatch(t, []string{"project-2", "project-4"}, names)
}

func TestMergeProjectUsers(t *testing.T) {
	rows := []billingapi.ProjectUser{
		{ProjectID: "p1", ProjectName: "research", UserID: "u1", Email: "alice@example.com"},
		{ProjectID: "p1", ProjectName: "research", UserID: "u2", Email: "bob@example.com"},
		{ProjectID: "p1", ProjectName: "research", UserID: "u3", Email: "Alice@Example.com"},
		{ProjectID: "p2", ProjectName: "staging", UserID: "u4", Email: ""},
		{ProjectID: "p3", ProjectName: "prod", UserID: "u5", Email: "carol@example.com"},
	}

	projects := mergeProjectUsers(rows)
	require.Len(t, projects, 2, "project without any email is not eligible")

	assert.Equal(t, "p1", projects[0].ProjectID)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, projects[0].Emails)
	assert.Equal(t, "p3", projects[1].ProjectID)
	assert.Equal(t, []string{"carol@example.com"}, projects[1].Emails)
}

func TestRun_SummaryFailureDoesNotFailRun(t *testing.T) {
	billing := &fakeBilling{rows: projectRows(1)}
	runner := NewRunner(billing, &fakeSender{}, &failingSummarizer{}, Options{OutputDir: t.TempDir()}, zerolog.Nop())

	result, err := runner.Run(context.Background(), RunParams{Year: 2021, Month: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Empty(t, result.SummaryPath)
}

type failingSummarizer struct{}

func (f *failingSummarizer) Summary(ctx context.Context, dateFilter string, requester domain.User, isAdmin bool) ([]domain.SummaryRow, error) {
	return nil, errors.New("listing unavailable")
}

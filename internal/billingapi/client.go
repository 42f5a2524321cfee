// Package billingapi is a client for the internal metering service
// that tracks per-project cloud usage and pricing.
package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/parkergs/tally/internal/domain"
)

// Config contains configuration for the billing API client.
type Config struct {
	// BaseURL of the billing service (e.g. http://billing.internal:8080).
	BaseURL string

	// Username and Password authenticate the service account.
	Username string
	Password string

	// Timeout bounds every API call. Default: 30s.
	Timeout time.Duration
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("billingapi: base URL is required")
	}
	if c.Username == "" || c.Password == "" {
		return errors.New("billingapi: service account credentials are required")
	}
	return nil
}

// ProjectUser is one project/user pairing from the billing service.
// A project appears once per billing user; callers merge the rows.
type ProjectUser struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
}

// Client talks to the billing API. Login must be called before any
// other method; the auth token is attached to every request.
type Client struct {
	cfg  Config
	http *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Login authenticates the service account and stores the session
// token for subsequent calls.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &result); err != nil {
		return domain.WrapError(err, domain.EUNAUTHORIZED, "billing.login", "billing service login failed")
	}
	if result.Token == "" {
		return domain.Unauthorized("billing.login", "billing service returned an empty session token")
	}

	c.mu.Lock()
	c.token = result.Token
	c.mu.Unlock()
	return nil
}

// Projects returns every project/user pairing eligible for billing.
func (c *Client) Projects(ctx context.Context) ([]ProjectUser, error) {
	var result struct {
		Projects []ProjectUser `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &result); err != nil {
		return nil, domain.Internal(err, "billing.projects", "fetching project list failed")
	}
	return result.Projects, nil
}

// Price returns the unit prices for a project in the billing month.
// Prices are period-scoped; a discount granted in one month does not
// bleed into the next.
func (c *Client) Price(ctx context.Context, projectID string, year, month int) (domain.PriceSheet, error) {
	var result domain.PriceSheet
	path := fmt.Sprintf("/projects/%s/price/%d/%02d", projectID, year, month)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return domain.PriceSheet{}, domain.Internal(err, "billing.price", "fetching project price failed")
	}
	return result, nil
}

type reportEntry struct {
	CPU        float64 `json:"cpu"`
	Volume     float64 `json:"volume"`
	Image      float64 `json:"image"`
	CPUCost    float64 `json:"cpuCost"`
	VolumeCost float64 `json:"volumeCost"`
	ImageCost  float64 `json:"imageCost"`
}

// MonthlyReport fetches a project's usage entries for the month and
// sums them into a single report. Month name, year, and project name
// are filled in by the caller.
func (c *Client) MonthlyReport(ctx context.Context, projectID string, year, month int) (domain.UsageReport, error) {
	var result struct {
		Entries []reportEntry `json:"entries"`
	}
	path := fmt.Sprintf("/projects/%s/reports/%d/%02d", projectID, year, month)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return domain.UsageReport{}, domain.Internal(err, "billing.report", "fetching monthly report failed")
	}

	var report domain.UsageReport
	for _, e := range result.Entries {
		report.CPU += e.CPU
		report.Volume += e.Volume
		report.Image += e.Image
		report.CPUCost += e.CPUCost
		report.VolumeCost += e.VolumeCost
		report.ImageCost += e.ImageCost
	}
	return report, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

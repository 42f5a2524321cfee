package internal

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/parkergs/tally/internal/billingapi"
	"github.com/parkergs/tally/internal/domain"
	"github.com/parkergs/tally/internal/freshbooks"
)

type Config struct {
	Env      string
	LogLevel string
	Port     uint16

	// TokenFile is the path to the persisted Freshbooks token pair.
	// The process refuses to start when the file is missing or
	// malformed.
	TokenFile string

	Freshbooks freshbooks.Config
	Billing    billingapi.Config
	Admin      AdminConfig
	Run        RunConfig
}

// AdminConfig identifies the operators allowed to use admin-gated
// endpoints. Admin addresses are also stripped from outbound invoice
// notifications.
type AdminConfig struct {
	Emails []string
}

// RunConfig tunes the monthly billing run.
type RunConfig struct {
	Concurrency int
	OutputDir   string
	CC          []string
	TaxName     string
	TaxAmount   float64
}

// Tax returns the configured tax, or nil when none is set.
func (r RunConfig) Tax() *domain.TaxConfig {
	if r.TaxName == "" {
		return nil
	}
	return &domain.TaxConfig{Name: r.TaxName, Amount: r.TaxAmount}
}

// NewConfig loads configuration from an optional config file and the
// environment. Environment variables win over file values. All
// credentials come from here; nothing is hard-coded.
func NewConfig(path string) (*Config, error) {
	// A .env file is a development convenience, not a requirement.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 3000)
	v.SetDefault("token_file", "freshbooks-token.txt")
	v.SetDefault("freshbooks.api_url", "https://api.freshbooks.com")
	v.SetDefault("freshbooks.timeout", "30s")
	v.SetDefault("freshbooks.invoice.currency_code", "CAD")
	v.SetDefault("freshbooks.invoice.due_offset_days", 30)
	v.SetDefault("freshbooks.invoice.number_prefix", "INV-")
	v.SetDefault("billing.timeout", "30s")
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.output_dir", ".")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		Env:       v.GetString("env"),
		LogLevel:  v.GetString("log_level"),
		Port:      uint16(v.GetUint32("port")),
		TokenFile: v.GetString("token_file"),
		Freshbooks: freshbooks.Config{
			APIURL:       v.GetString("freshbooks.api_url"),
			AccountID:    v.GetString("freshbooks.account_id"),
			ClientID:     v.GetString("freshbooks.client_id"),
			ClientSecret: v.GetString("freshbooks.client_secret"),
			RedirectURI:  v.GetString("freshbooks.redirect_uri"),
			FinanceEmail: v.GetString("freshbooks.finance_email"),
			Timeout:      v.GetDuration("freshbooks.timeout"),
			InvoiceDefaults: freshbooks.InvoiceDefaults{
				CurrencyCode:  v.GetString("freshbooks.invoice.currency_code"),
				Terms:         v.GetString("freshbooks.invoice.terms"),
				Template:      v.GetString("freshbooks.invoice.template"),
				DueOffsetDays: v.GetInt("freshbooks.invoice.due_offset_days"),
				NumberPrefix:  v.GetString("freshbooks.invoice.number_prefix"),
			},
		},
		Billing: billingapi.Config{
			BaseURL:  v.GetString("billing.base_url"),
			Username: v.GetString("billing.username"),
			Password: v.GetString("billing.password"),
			Timeout:  v.GetDuration("billing.timeout"),
		},
		Admin: AdminConfig{
			Emails: v.GetStringSlice("admin.emails"),
		},
		Run: RunConfig{
			Concurrency: v.GetInt("run.concurrency"),
			OutputDir:   v.GetString("run.output_dir"),
			CC:          v.GetStringSlice("run.cc"),
			TaxName:     v.GetString("run.tax_name"),
			TaxAmount:   v.GetFloat64("run.tax_amount"),
		},
	}

	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("invalid env %q: must be dev or prod", cfg.Env)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		cfg.LogLevel = "info"
	}
	if cfg.TokenFile == "" {
		return nil, fmt.Errorf("token_file is required")
	}
	if err := cfg.Freshbooks.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

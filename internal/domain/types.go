package domain

import (
	"strconv"
	"strings"
)

// UsageReport is one project's metered usage for a billing month.
// Quantities are unit-hours; costs are dollar totals computed by the
// billing API. Owned by the caller and passed by value into invoice
// creation.
type UsageReport struct {
	CPU        float64 `json:"cpu"`
	Volume     float64 `json:"volume"`
	Image      float64 `json:"image"`
	CPUCost    float64 `json:"cpuCost"`
	VolumeCost float64 `json:"volumeCost"`
	ImageCost  float64 `json:"imageCost"`

	// Month is the display name of the billing month (e.g. "April").
	Month       string `json:"month"`
	Year        int    `json:"year"`
	ProjectName string `json:"project_name"`
}

// PriceSheet holds a project's unit prices for the billing month.
// Discount is a fraction (0.1 = 10%).
type PriceSheet struct {
	CPUPrice    float64 `json:"cpuPrice"`
	VolumePrice float64 `json:"volumePrice"`
	ImagePrice  float64 `json:"imagePrice"`
	Discount    float64 `json:"discount"`
}

// DiscountPercent renders the discount fraction as a percentage with
// four decimal places (0.1 -> "10.0000"). The conversion happens once,
// by the caller, before the sheet reaches the invoice gateway.
func (p PriceSheet) DiscountPercent() string {
	return strconv.FormatFloat(p.Discount*100, 'f', 4, 64)
}

// Project is a billable project with its notification recipients.
// Emails are merged across the project's billing users.
type Project struct {
	ProjectID   string   `json:"project_id"`
	ProjectName string   `json:"project_name"`
	UserID      string   `json:"user_id"`
	Emails      []string `json:"emails"`
}

// SummaryRow is one invoice flattened into normalized cost categories.
// Costs default to zero when the invoice has no matching line item.
type SummaryRow struct {
	Organization  string  `json:"current_organization"`
	Date          string  `json:"date"`
	InvoiceNumber string  `json:"invoice_number"`
	PaymentStatus string  `json:"payment_status"`
	InvoiceStatus string  `json:"invoice_status"`
	CPUCost       float64 `json:"cpu_cost"`
	ImageCost     float64 `json:"image_cost"`
	VolumeCost    float64 `json:"volume_cost"`
	Discount      float64 `json:"discount"`
	Total         float64 `json:"total"`
}

// TaxConfig is an optional tax applied to every invoice line item.
type TaxConfig struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// User identifies the requester on inbound API calls.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// IsAdmin reports whether the user's email is on the admin allow-list.
// Comparison is case-insensitive, matching how recipient lists are
// stripped of admin addresses.
func (u User) IsAdmin(adminEmails []string) bool {
	email := strings.ToLower(u.Email)
	for _, a := range adminEmails {
		if strings.ToLower(a) == email {
			return true
		}
	}
	return false
}

package freshbooks

// Wire types for the Freshbooks accounting API. Responses arrive
// wrapped in a {"response": {"result": ...}} envelope.

// Amount is a money value with its currency code.
type Amount struct {
	Amount float64 `json:"amount"`
	Code   string  `json:"code"`
}

// LineItem is one invoice line.
type LineItem struct {
	Amount      Amount  `json:"amount"`
	Description string  `json:"description"`
	TaxName1    string  `json:"taxName1,omitempty"`
	TaxAmount1  float64 `json:"taxAmount1,omitempty"`
	Name        string  `json:"name"`
	Qty         float64 `json:"qty"`
	TaxName2    string  `json:"taxName2,omitempty"`
	TaxAmount2  float64 `json:"taxAmount2,omitempty"`
	Type        int     `json:"type"`
	UnitCost    Amount  `json:"unit_cost"`
}

// Presentation is the invoice theme block.
type Presentation struct {
	ID                   int64  `json:"id,omitempty"`
	ThemeFontName        string `json:"theme_font_name,omitempty"`
	ThemePrimaryColor    string `json:"theme_primary_color,omitempty"`
	ThemeLayout          string `json:"theme_layout,omitempty"`
	DateFormat           string `json:"date_format,omitempty"`
	ImageBannerPositionY int    `json:"image_banner_position_y,omitempty"`
	ImageLogoSrc         string `json:"image_logo_src,omitempty"`
}

// Invoice is both the creation payload and the record returned by the
// listing endpoints. Once built and submitted a payload is never
// mutated.
type Invoice struct {
	ID            int64         `json:"id,omitempty"`
	CreateDate    string        `json:"create_date"`
	CurrencyCode  string        `json:"currency_code"`
	DiscountValue float64       `json:"discount_value"`
	Notes         string        `json:"notes"`
	InvoiceNumber string        `json:"invoice_number"`
	Template      string        `json:"template,omitempty"`
	Terms         string        `json:"terms,omitempty"`
	CustomerID    int64         `json:"customerid"`
	DueOffsetDays int           `json:"due_offset_days"`
	Lines         []LineItem    `json:"lines"`
	Presentation  *Presentation `json:"presentation,omitempty"`

	// Listing-only fields.
	Organization  string `json:"current_organization,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	V3Status      string `json:"v3_status,omitempty"`
	Amount        Amount `json:"amount,omitempty"`
}

// InvoicePage is one page of the invoice listing. The first response
// carries the authoritative total page count.
type InvoicePage struct {
	Invoices []Invoice `json:"invoices"`
	Page     int       `json:"page"`
	Pages    int       `json:"pages"`
	Total    int       `json:"total"`
}

// Customer is a Freshbooks client record.
type Customer struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Organization   string    `json:"organization"`
	RecentContacts []Contact `json:"recent_contacts"`
}

// Contact is a secondary contact on a customer account.
type Contact struct {
	Email string `json:"email"`
}

// CustomerPage is one page of the customer listing.
type CustomerPage struct {
	Clients []Customer `json:"clients"`
	Page    int        `json:"page"`
	Pages   int        `json:"pages"`
	Total   int        `json:"total"`
}

// EmailRequest triggers delivery of an existing invoice.
type EmailRequest struct {
	Subject     string   `json:"email_subject"`
	Body        string   `json:"email_body,omitempty"`
	Recipients  []string `json:"email_recipients"`
	ActionEmail bool     `json:"action_email"`
}

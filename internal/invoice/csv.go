package invoice

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/parkergs/tally/internal/domain"
)

var summaryHeader = []string{
	"Project Name",
	"Invoice Number",
	"Date",
	"CPU Cost",
	"Image Cost",
	"Volume Cost",
	"Discount",
	"Total",
}

// WriteSummaryCSV writes the period's summary rows as CSV, header
// first, one row per invoice.
func WriteSummaryCSV(w io.Writer, rows []domain.SummaryRow) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Organization,
			row.InvoiceNumber,
			row.Date,
			money(row.CPUCost),
			money(row.ImageCost),
			money(row.VolumeCost),
			money(row.Discount),
			money(row.Total),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"smartpocket/internal/core"
	"smartpocket/internal/sheets"

	"github.com/shopspring/decimal"
)

// writeReport renders rows as an aligned table followed by the total spent.
func writeReport(w io.Writer, username, currency string, rows []sheets.LedgerRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintf(w, "No ledger rows for %s\n", username)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Day\tRecorded\tAmount\tRemaining\tAllowance\tDescription\t")

	spent := decimal.Zero
	for _, r := range rows {
		spent = spent.Add(r.Amount)
		fmt.Fprintf(tw, "%d/%d\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Day, r.TotalDays,
			r.RecordedAt.Local().Format("2006-01-02 15:04"),
			core.FormatAmount(r.Amount, currency),
			core.FormatAmount(r.RemainingBudget, currency),
			core.FormatAmount(r.DailyAllowance, currency),
			r.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	last := rows[len(rows)-1]
	_, err := fmt.Fprintf(w, "\n%s: %d expenses, %s spent, %s left over %d days\n",
		username, len(rows),
		core.FormatAmount(spent, currency),
		core.FormatAmount(last.RemainingBudget, currency),
		last.RemainingDays)
	return err
}

package sheets

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRow is one line of the parent-facing expense ledger.
type LedgerRow struct {
	RecordedAt      time.Time
	Username        string
	Day             int
	TotalDays       int
	Amount          decimal.Decimal
	Description     string
	RemainingBudget decimal.Decimal
	RemainingDays   int
	DailyAllowance  decimal.Decimal
}

// Ports for outbound adapters.
type (
	LedgerWriter interface {
		AppendRow(ctx context.Context, row LedgerRow) (rowRef string, err error)
	}

	// LedgerReader returns the rows recorded for one user, oldest first.
	LedgerReader interface {
		ListRows(ctx context.Context, username string) ([]LedgerRow, error)
	}
)

// Ledger is a ledger that can be both appended to and read back.
type Ledger interface {
	LedgerWriter
	LedgerReader
}

package backend

import (
	"context"
	"fmt"
	"log/slog"

	"smartpocket/internal/config"
	"smartpocket/internal/sheets"
	gsheet "smartpocket/internal/sheets/google"
	"smartpocket/internal/sheets/memory"
)

// NewLedger returns the expense ledger the worker appends to and reports read from.
func NewLedger(ctx context.Context, appConfig *config.Config) (sheets.Ledger, error) {
	switch appConfig.LedgerBackend {
	case config.LedgerSheets:
		cli, err := gsheet.New(ctx, appConfig.GoogleSpreadsheetID, appConfig.GoogleSheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets ledger: %w", err)
		}
		slog.InfoContext(ctx, "Initialized Google Sheets ledger", "spreadsheet_id", appConfig.GoogleSpreadsheetID)
		return cli, nil

	case config.LedgerMemory:
		slog.InfoContext(ctx, "Initialized memory ledger; rows are lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", appConfig.LedgerBackend)
	}
}

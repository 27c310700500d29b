// Command ledger-report prints the ledger rows recorded for one user.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"smartpocket/internal/backend"
	"smartpocket/internal/cli"
	"smartpocket/internal/config"
	"smartpocket/internal/core"
	"smartpocket/internal/log"
)

func main() {
	username := flag.String("user", "", "username whose ledger rows are printed")
	timeout := flag.Duration("timeout", 30*time.Second, "deadline for reading the ledger")
	flag.Parse()

	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentSheets)

	user, err := core.NormalizeUsername(*username)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: ledger-report -user <name>")
		os.Exit(2)
	}
	if cfg.LedgerBackend != config.LedgerSheets || strings.TrimSpace(cfg.GoogleSpreadsheetID) == "" {
		fmt.Fprintln(os.Stderr, "set LEDGER_BACKEND=sheets and GOOGLE_SPREADSHEET_ID to read a ledger")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ledger, err := backend.NewLedger(ctx, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize ledger", err)
	}
	rows, err := ledger.ListRows(ctx, user)
	if err != nil {
		cli.Fatal(logger, "Failed to read ledger", err, log.FieldUsername, user)
	}

	if err := writeReport(os.Stdout, user, cfg.Currency, rows); err != nil {
		cli.Fatal(logger, "Failed to write report", err)
	}
}

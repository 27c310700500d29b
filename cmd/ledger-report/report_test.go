package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"smartpocket/internal/sheets"

	"github.com/shopspring/decimal"
)

func TestWriteReport(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []sheets.LedgerRow{
		{RecordedAt: at, Username: "ana", Day: 1, TotalDays: 5, Amount: decimal.NewFromInt(30), Description: "snack",
			RemainingBudget: decimal.NewFromInt(70), RemainingDays: 4, DailyAllowance: decimal.RequireFromString("17.5")},
		{RecordedAt: at.Add(24 * time.Hour), Username: "ana", Day: 2, TotalDays: 5, Amount: decimal.RequireFromString("12.25"), Description: "bus",
			RemainingBudget: decimal.RequireFromString("57.75"), RemainingDays: 3, DailyAllowance: decimal.RequireFromString("19.25")},
	}

	var buf bytes.Buffer
	if err := writeReport(&buf, "ana", "EUR", rows); err != nil {
		t.Fatalf("writeReport() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{"Day", "1/5", "2/5", "snack", "bus", "ana: 2 expenses", "3 days"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines != 5 {
		t.Errorf("report has %d lines, want 5:\n%s", lines, out)
	}
}

func TestWriteReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReport(&buf, "ben", "INR", nil); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "No ledger rows for ben\n" {
		t.Errorf("writeReport() = %q", got)
	}
}

package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	ports "smartpocket/internal/sheets"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Column layout of the ledger sheet, A to I.
var header = []any{
	"Recorded at", "User", "Day", "Total days", "Amount",
	"Description", "Remaining budget", "Remaining days", "Daily allowance",
}

const ledgerColumns = "A:I"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string

	mu            sync.Mutex
	headerWritten bool
}

// Ensure interface conformance
var (
	_ ports.LedgerWriter = (*Client)(nil)
	_ ports.LedgerReader = (*Client)(nil)
)

// New creates a ledger client authenticated with a service account. The
// sheet name is prefixed with the current year unless it already carries one,
// so each year gets its own tab.
func New(ctx context.Context, spreadsheetID, sheetName string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "SmartPocket"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, yearPrefixedName(sheetName, time.Now().Year())), nil
}

// NewWithService wraps an existing Sheets service. sheet is used verbatim.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheet string) *Client {
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading service account credentials", "path", serviceAccountFile)
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	// Token refreshes outlive the startup context.
	base := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, newHTTPClientWithPooling())
	creds, err := googleoauth.CredentialsFromJSON(base, credentialsJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	// WithHTTPClient overrides credential options; auth lives in the transport.
	service, err := gsheet.NewService(ctx, goption.WithHTTPClient(oauth2.NewClient(base, creds.TokenSource)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newHTTPClientWithPooling keeps a small pool of connections to the Sheets API.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// AppendRow appends one expense line after the last row of the ledger sheet.
// Amounts are written as numbers so the sheet can sum them.
func (c *Client) AppendRow(ctx context.Context, row ports.LedgerRow) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if err := c.ensureHeader(ctx); err != nil {
		return "", err
	}

	vr := &gsheet.ValueRange{Values: [][]any{{
		row.RecordedAt.UTC().Format(time.RFC3339),
		row.Username,
		row.Day,
		row.TotalDays,
		row.Amount.InexactFloat64(),
		row.Description,
		row.RemainingBudget.InexactFloat64(),
		row.RemainingDays,
		row.DailyAllowance.InexactFloat64(),
	}}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.rangeOf(ledgerColumns), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheet, err)
	}

	ref := c.sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// ensureHeader writes the column titles into an empty sheet once per client.
func (c *Client) ensureHeader(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headerWritten {
		return nil
	}

	rng := c.rangeOf("A1:I1")
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header %s: %w", rng, err)
	}
	if len(resp.Values) == 0 {
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{header}}).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write header %s: %w", rng, err)
		}
		slog.InfoContext(ctx, "Wrote ledger header", "sheet", c.sheet)
	}
	c.headerWritten = true
	return nil
}

// ListRows scans the ledger sheet and returns the rows of one user.
// Rows that cannot be parsed are skipped.
func (c *Client) ListRows(ctx context.Context, username string) ([]ports.LedgerRow, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := c.rangeOf(ledgerColumns)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	var out []ports.LedgerRow
	for _, raw := range resp.Values {
		row, ok := parseRow(toStrings(raw))
		if !ok || row.Username != username {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *Client) rangeOf(cols string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(c.sheet, "'", "''"), cols)
}

// parseRow converts one sheet line; the header and short rows are rejected.
func parseRow(cols []string) (ports.LedgerRow, bool) {
	if len(cols) < len(header) {
		return ports.LedgerRow{}, false
	}
	at, err := time.Parse(time.RFC3339, cols[0])
	if err != nil {
		return ports.LedgerRow{}, false
	}
	day, err1 := strconv.Atoi(cols[2])
	totalDays, err2 := strconv.Atoi(cols[3])
	remainingDays, err3 := strconv.Atoi(cols[7])
	amount, err4 := decimal.NewFromString(cols[4])
	remaining, err5 := decimal.NewFromString(cols[6])
	allowance, err6 := decimal.NewFromString(cols[8])
	if err := errors.Join(err1, err2, err3, err4, err5, err6); err != nil {
		return ports.LedgerRow{}, false
	}
	return ports.LedgerRow{
		RecordedAt:      at,
		Username:        cols[1],
		Day:             day,
		TotalDays:       totalDays,
		Amount:          amount,
		Description:     cols[5],
		RemainingBudget: remaining,
		RemainingDays:   remainingDays,
		DailyAllowance:  allowance,
	}, true
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

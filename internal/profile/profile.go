// Package profile defines the per-user persistence port for budget sessions
// and the versioned snapshot format shared by every adapter.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartpocket/internal/core"

	"github.com/shopspring/decimal"
)

// SchemaVersion is written into every saved snapshot.
const SchemaVersion = 1

var (
	ErrNotFound          = errors.New("profile not found")
	ErrUnsupportedSchema = errors.New("unsupported profile schema version")
)

// Store persists one BudgetSession per normalized username.
// Save always overwrites the whole snapshot.
type Store interface {
	Load(ctx context.Context, username string) (core.BudgetSession, error)
	Save(ctx context.Context, username string, s core.BudgetSession) error
	Delete(ctx context.Context, username string) error
}

// PersistenceError reports a storage failure. The in-memory state that was
// being saved is still valid when this error is returned.
type PersistenceError struct {
	Op       string
	Username string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("profile %s %q: %v", e.Op, e.Username, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Wrap returns err as a *PersistenceError unless it is nil, ErrNotFound or
// ErrUnsupportedSchema, which callers match directly.
func Wrap(op, username string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupportedSchema) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Username: username, Err: err}
}

type (
	// Record is the flat, versioned snapshot written by adapters.
	Record struct {
		SchemaVersion   int             `json:"schema_version"`
		Username        string          `json:"username"`
		TotalBudget     decimal.Decimal `json:"total_budget"`
		RemainingBudget decimal.Decimal `json:"remaining_budget"`
		TotalDays       int             `json:"total_days"`
		RemainingDays   int             `json:"remaining_days"`
		DailyAllowance  decimal.Decimal `json:"daily_allowance"`
		Initialized     bool            `json:"initialized"`
		ChatHistory     []TurnRecord    `json:"chat_history"`
		Expenses        []ExpenseRecord `json:"expenses"`
		UpdatedAt       time.Time       `json:"updated_at"`
	}

	TurnRecord struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	ExpenseRecord struct {
		Day         int             `json:"day"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		RecordedAt  time.Time       `json:"recorded_at"`
	}
)

// NewRecord snapshots a session for the given user.
func NewRecord(username string, s core.BudgetSession, now time.Time) Record {
	r := Record{
		SchemaVersion:   SchemaVersion,
		Username:        username,
		TotalBudget:     s.TotalBudget,
		RemainingBudget: s.RemainingBudget,
		TotalDays:       s.TotalDays,
		RemainingDays:   s.RemainingDays,
		DailyAllowance:  s.DailyAllowance,
		Initialized:     s.Initialized,
		ChatHistory:     make([]TurnRecord, 0, len(s.ChatHistory)),
		Expenses:        make([]ExpenseRecord, 0, len(s.Expenses)),
		UpdatedAt:       now.UTC(),
	}
	for _, t := range s.ChatHistory {
		r.ChatHistory = append(r.ChatHistory, TurnRecord{Role: string(t.Role), Content: t.Content})
	}
	for _, e := range s.Expenses {
		r.Expenses = append(r.Expenses, ExpenseRecord{
			Day:         e.Day,
			Amount:      e.Amount,
			Description: e.Description,
			RecordedAt:  e.RecordedAt.UTC(),
		})
	}
	return r
}

// Session converts a snapshot back into a BudgetSession.
func (r Record) Session() (core.BudgetSession, error) {
	if r.SchemaVersion != SchemaVersion {
		return core.BudgetSession{}, fmt.Errorf("%w: %d", ErrUnsupportedSchema, r.SchemaVersion)
	}
	s := core.BudgetSession{
		TotalBudget:     r.TotalBudget,
		RemainingBudget: r.RemainingBudget,
		TotalDays:       r.TotalDays,
		RemainingDays:   r.RemainingDays,
		DailyAllowance:  r.DailyAllowance,
		Initialized:     r.Initialized,
	}
	if len(r.ChatHistory) > 0 {
		s.ChatHistory = make([]core.ChatTurn, 0, len(r.ChatHistory))
		for _, t := range r.ChatHistory {
			s.ChatHistory = append(s.ChatHistory, core.ChatTurn{Role: core.Role(t.Role), Content: t.Content})
		}
	}
	if len(r.Expenses) > 0 {
		s.Expenses = make([]core.ExpenseEntry, 0, len(r.Expenses))
		for _, e := range r.Expenses {
			s.Expenses = append(s.Expenses, core.ExpenseEntry{
				Day:         e.Day,
				Amount:      e.Amount,
				Description: e.Description,
				RecordedAt:  e.RecordedAt,
			})
		}
	}
	return s, nil
}

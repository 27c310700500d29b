package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type (
	Role string

	// ChatTurn is one message of the visible transcript.
	ChatTurn struct {
		Role    Role
		Content string
	}

	// ExpenseEntry is one line of the free-text expense log.
	ExpenseEntry struct {
		Day         int // 1-based day of the budget period the expense closed
		Amount      decimal.Decimal
		Description string
		RecordedAt  time.Time
	}

	// BudgetSession is the per-user aggregate: budget numbers, day counters,
	// the derived allowance and the chat transcript.
	BudgetSession struct {
		TotalBudget     decimal.Decimal
		RemainingBudget decimal.Decimal
		TotalDays       int
		RemainingDays   int
		DailyAllowance  decimal.Decimal
		Initialized     bool
		ChatHistory     []ChatTurn
		Expenses        []ExpenseEntry
	}
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrNoDaysRemaining    = errors.New("no days remaining")
	ErrNotInitialized     = errors.New("budget not initialized")
	ErrAlreadyInitialized = errors.New("budget already initialized")
)

// MaxUsernameLength is the longest accepted username, in characters.
const MaxUsernameLength = 64

// NormalizeUsername lower-cases and trims an identifier. Blank names and
// names longer than MaxUsernameLength are rejected.
func NormalizeUsername(username string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(username))
	if u == "" {
		return "", ErrInvalidUsername
	}
	if utf8.RuneCountInString(u) > MaxUsernameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidUsername, MaxUsernameLength)
	}
	return u, nil
}

// DaysElapsed returns how many days of the period have been closed by expenses.
func (s BudgetSession) DaysElapsed() int {
	if !s.Initialized {
		return 0
	}
	return s.TotalDays - s.RemainingDays
}

// Overspent reports whether the remaining budget is in deficit.
func (s BudgetSession) Overspent() bool {
	return s.RemainingBudget.IsNegative()
}

// LastTurn returns the most recent chat turn, if any.
func (s BudgetSession) LastTurn() (ChatTurn, bool) {
	if len(s.ChatHistory) == 0 {
		return ChatTurn{}, false
	}
	return s.ChatHistory[len(s.ChatHistory)-1], true
}

// Equal compares every field, using decimal equality for amounts.
func (s BudgetSession) Equal(o BudgetSession) bool {
	if !s.TotalBudget.Equal(o.TotalBudget) ||
		!s.RemainingBudget.Equal(o.RemainingBudget) ||
		!s.DailyAllowance.Equal(o.DailyAllowance) ||
		s.TotalDays != o.TotalDays ||
		s.RemainingDays != o.RemainingDays ||
		s.Initialized != o.Initialized ||
		len(s.ChatHistory) != len(o.ChatHistory) ||
		len(s.Expenses) != len(o.Expenses) {
		return false
	}
	for i := range s.ChatHistory {
		if s.ChatHistory[i] != o.ChatHistory[i] {
			return false
		}
	}
	for i, e := range s.Expenses {
		f := o.Expenses[i]
		if e.Day != f.Day || !e.Amount.Equal(f.Amount) || e.Description != f.Description || !e.RecordedAt.Equal(f.RecordedAt) {
			return false
		}
	}
	return true
}

package core

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// maxDescriptionLength bounds the free-text expense description.
const maxDescriptionLength = 200

// Allowance is the budget available per remaining day. It is always
// recomputed from the two inputs, never adjusted incrementally.
func Allowance(remainingBudget decimal.Decimal, remainingDays int) decimal.Decimal {
	if remainingDays <= 0 {
		return decimal.Zero
	}
	return remainingBudget.Div(decimal.NewFromInt(int64(remainingDays)))
}

// StartBudget runs the parent setup on an uninitialized session.
func StartBudget(s BudgetSession, totalBudget decimal.Decimal, totalDays int) (BudgetSession, error) {
	if s.Initialized {
		return s, ErrAlreadyInitialized
	}
	if !totalBudget.IsPositive() {
		return s, fmt.Errorf("%w: total budget must be positive, got %s", ErrInvalidInput, totalBudget)
	}
	if totalDays <= 0 {
		return s, fmt.Errorf("%w: total days must be positive, got %d", ErrInvalidInput, totalDays)
	}

	return BudgetSession{
		TotalBudget:     totalBudget,
		RemainingBudget: totalBudget,
		TotalDays:       totalDays,
		RemainingDays:   totalDays,
		DailyAllowance:  Allowance(totalBudget, totalDays),
		Initialized:     true,
	}, nil
}

// RecordExpense closes one day of the period with the given spend.
// Overspending is accepted and leaves a negative remaining budget.
func RecordExpense(s BudgetSession, amount decimal.Decimal, description string, at time.Time) (BudgetSession, error) {
	if !s.Initialized {
		return s, ErrNotInitialized
	}
	if s.RemainingDays <= 0 {
		return s, ErrNoDaysRemaining
	}
	if amount.IsNegative() {
		return s, fmt.Errorf("%w: expense amount cannot be negative, got %s", ErrInvalidInput, amount)
	}
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return s, fmt.Errorf("%w: description too long (max %d characters)", ErrInvalidInput, maxDescriptionLength)
	}

	next := s
	next.RemainingBudget = s.RemainingBudget.Sub(amount)
	next.RemainingDays = s.RemainingDays - 1
	next.DailyAllowance = Allowance(next.RemainingBudget, next.RemainingDays)
	next.Expenses = append(slices.Clone(s.Expenses), ExpenseEntry{
		Day:         s.TotalDays - s.RemainingDays + 1,
		Amount:      amount,
		Description: description,
		RecordedAt:  at,
	})
	return next, nil
}

// Reset returns the session to its uninitialized state, dropping the
// budget numbers, the transcript and the expense log.
func Reset(BudgetSession) BudgetSession {
	return BudgetSession{}
}

// AppendTurn returns a copy of the session with one more chat turn.
// The history backing array is never shared with the input.
func AppendTurn(s BudgetSession, role Role, content string) BudgetSession {
	next := s
	next.ChatHistory = append(slices.Clone(s.ChatHistory), ChatTurn{Role: role, Content: content})
	return next
}

package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidMessage = errors.New("invalid expense message")

// ExpenseRecordedMessage is published once per recorded expense. It carries
// everything the ledger needs so consumers never read the profile store.
type ExpenseRecordedMessage struct {
	Username        string          `json:"username"`
	Day             int             `json:"day"`
	TotalDays       int             `json:"total_days"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	RemainingBudget decimal.Decimal `json:"remaining_budget"`
	RemainingDays   int             `json:"remaining_days"`
	DailyAllowance  decimal.Decimal `json:"daily_allowance"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Validate checks the fields a consumer relies on.
func (m *ExpenseRecordedMessage) Validate() error {
	if m.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidMessage)
	}
	if m.Day < 1 {
		return fmt.Errorf("%w: day must be at least 1, got %d", ErrInvalidMessage, m.Day)
	}
	if m.Amount.IsNegative() {
		return fmt.Errorf("%w: amount cannot be negative", ErrInvalidMessage)
	}
	if m.RemainingDays < 0 {
		return fmt.Errorf("%w: remaining days cannot be negative", ErrInvalidMessage)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseRecordedMessageFromJSON decodes and validates a message body.
func ExpenseRecordedMessageFromJSON(data []byte) (*ExpenseRecordedMessage, error) {
	var msg ExpenseRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smartpocket/internal/amqp"
	"smartpocket/internal/cache"
	"smartpocket/internal/log"
	"smartpocket/internal/sheets"
)

const (
	seenCacheSize = 1000
	seenCacheTTL  = 24 * time.Hour
)

// LedgerWorker appends one ledger row per ExpenseRecorded message.
//
// A redelivered message that was already written (the ack was lost) is
// recognised through a bounded cache of recent message keys and skipped.
type LedgerWorker struct {
	ledger sheets.LedgerWriter
	seen   *cache.LRUCache[string]
}

func NewLedgerWorker(ledger sheets.LedgerWriter) *LedgerWorker {
	return &LedgerWorker{
		ledger: ledger,
		seen:   cache.NewLRUCache[string](seenCacheSize, seenCacheTTL),
	}
}

// SeenCache exposes the dedupe cache so it can be registered for sweeping.
func (w *LedgerWorker) SeenCache() cache.Cleaner {
	return w.seen
}

// HandleExpenseRecorded has the amqp.Handler signature. A returned error
// makes the consumer requeue the message.
func (w *LedgerWorker) HandleExpenseRecorded(ctx context.Context, msg *amqp.ExpenseRecordedMessage) error {
	key := messageKey(msg)
	if ref, ok := w.seen.Get(key); ok {
		slog.InfoContext(ctx, "Skipping duplicate expense message",
			log.FieldUsername, msg.Username,
			log.FieldDay, msg.Day,
			log.FieldSheetsRef, ref)
		return nil
	}

	ref, err := w.ledger.AppendRow(ctx, RowFromMessage(msg))
	if err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	w.seen.Set(key, ref)

	fields := log.NewFields().
		WithOperation(log.OpAppend).
		WithExpense(msg.Username, msg.Day, msg.Amount.String(), msg.Description)
	fields[log.FieldSheetsRef] = ref
	slog.InfoContext(ctx, "Appended ledger row", fields.ToSlice()...)
	return nil
}

// RowFromMessage maps the event fields onto a ledger line.
func RowFromMessage(msg *amqp.ExpenseRecordedMessage) sheets.LedgerRow {
	return sheets.LedgerRow{
		RecordedAt:      msg.Timestamp,
		Username:        msg.Username,
		Day:             msg.Day,
		TotalDays:       msg.TotalDays,
		Amount:          msg.Amount,
		Description:     msg.Description,
		RemainingBudget: msg.RemainingBudget,
		RemainingDays:   msg.RemainingDays,
		DailyAllowance:  msg.DailyAllowance,
	}
}

// messageKey identifies one recorded expense. A user closes each day once
// per budget period, and the timestamp separates periods after a reset.
func messageKey(msg *amqp.ExpenseRecordedMessage) string {
	return fmt.Sprintf("%s/%d/%d", msg.Username, msg.Day, msg.Timestamp.UnixNano())
}

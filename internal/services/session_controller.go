package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smartpocket/internal/amqp"
	"smartpocket/internal/core"
	"smartpocket/internal/log"
	"smartpocket/internal/profile"

	"github.com/shopspring/decimal"
)

var ErrNotLoggedIn = errors.New("user is not logged in")

// Advisor answers a chat message against the current session.
type Advisor interface {
	SubmitMessage(ctx context.Context, s core.BudgetSession, userText string) (core.BudgetSession, string, error)
}

// EventPublisher receives one event per recorded expense.
type EventPublisher interface {
	PublishExpenseRecorded(ctx context.Context, msg *amqp.ExpenseRecordedMessage) error
}

// SessionController holds one in-memory session per logged-in user and
// persists the whole snapshot after every mutation.
//
// Mutations of the same username are not serialized: two concurrent
// requests both start from the same snapshot and the last save wins.
type SessionController struct {
	store     profile.Store
	advisor   Advisor
	publisher EventPublisher
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]core.BudgetSession
}

// NewSessionController wires the controller. publisher may be nil.
func NewSessionController(store profile.Store, advisor Advisor, publisher EventPublisher) *SessionController {
	return &SessionController{
		store:     store,
		advisor:   advisor,
		publisher: publisher,
		now:       time.Now,
		sessions:  make(map[string]core.BudgetSession),
	}
}

// Login loads the user's profile or starts a fresh uninitialized one.
// An already active login returns the in-memory session.
func (c *SessionController) Login(ctx context.Context, username string) (core.BudgetSession, error) {
	key, err := core.NormalizeUsername(username)
	if err != nil {
		return core.BudgetSession{}, err
	}

	c.mu.Lock()
	if s, ok := c.sessions[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.store.Load(ctx, key)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		s = core.BudgetSession{}
		slog.InfoContext(ctx, "Created new profile", "username", key)
	case err != nil:
		return core.BudgetSession{}, fmt.Errorf("load profile: %w", err)
	default:
		slog.InfoContext(ctx, "Loaded profile", "username", key, "initialized", s.Initialized)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent login may have won the race; keep its session.
	if existing, ok := c.sessions[key]; ok {
		return existing, nil
	}
	c.sessions[key] = s
	return s, nil
}

// Logout persists the session and drops it from memory. The session is
// dropped even when the save fails.
func (c *SessionController) Logout(ctx context.Context, username string) error {
	key, s, err := c.current(username)
	if err != nil {
		return err
	}

	saveErr := c.store.Save(context.WithoutCancel(ctx), key, s)

	c.mu.Lock()
	delete(c.sessions, key)
	c.mu.Unlock()

	if saveErr != nil {
		slog.WarnContext(ctx, "Failed to persist profile on logout", "username", key, "error", saveErr)
		return profile.Wrap("save", key, saveErr)
	}
	slog.InfoContext(ctx, "User logged out", "username", key)
	return nil
}

// Session returns the active session without persisting anything.
func (c *SessionController) Session(username string) (core.BudgetSession, error) {
	_, s, err := c.current(username)
	return s, err
}

func (c *SessionController) StartBudget(ctx context.Context, username string, totalBudget decimal.Decimal, totalDays int) (core.BudgetSession, error) {
	return c.mutate(ctx, username, log.OpStartBudget, func(s core.BudgetSession) (core.BudgetSession, error) {
		return core.StartBudget(s, totalBudget, totalDays)
	})
}

// RecordExpense closes one day and publishes an ExpenseRecorded event once
// the new state is saved.
func (c *SessionController) RecordExpense(ctx context.Context, username string, amount decimal.Decimal, description string) (core.BudgetSession, error) {
	at := c.now()
	s, err := c.mutate(ctx, username, log.OpRecordExpense, func(s core.BudgetSession) (core.BudgetSession, error) {
		return core.RecordExpense(s, amount, description, at)
	})
	if err != nil {
		return s, err
	}

	key, _ := core.NormalizeUsername(username)
	last := s.Expenses[len(s.Expenses)-1]
	fields := log.NewFields().
		WithOperation(log.OpRecordExpense).
		WithExpense(key, last.Day, last.Amount.String(), last.Description)
	fields[log.FieldRemainingDays] = s.RemainingDays
	fields[log.FieldAllowance] = s.DailyAllowance.String()
	slog.InfoContext(ctx, "Expense recorded", fields.ToSlice()...)

	// The save already ignored cancellation; the event must follow it.
	c.publish(context.WithoutCancel(ctx), username, s)
	return s, nil
}

// SubmitMessage records a chat exchange. Backend failures are part of the
// returned reply, not the error.
func (c *SessionController) SubmitMessage(ctx context.Context, username, text string) (core.BudgetSession, string, error) {
	var reply string
	s, err := c.mutate(ctx, username, log.OpChat, func(s core.BudgetSession) (core.BudgetSession, error) {
		next, r, err := c.advisor.SubmitMessage(ctx, s, text)
		reply = r
		return next, err
	})
	return s, reply, err
}

// ResetBudgetAndChat clears budget numbers, transcript and expense log but
// keeps the user logged in.
func (c *SessionController) ResetBudgetAndChat(ctx context.Context, username string) (core.BudgetSession, error) {
	return c.mutate(ctx, username, log.OpReset, func(s core.BudgetSession) (core.BudgetSession, error) {
		return core.Reset(s), nil
	})
}

// ClearSessionEntirely drops the in-memory session and deletes the stored
// profile, so the next login starts from nothing.
func (c *SessionController) ClearSessionEntirely(ctx context.Context, username string) error {
	key, _, err := c.current(username)
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.sessions, key)
	c.mu.Unlock()

	if err := c.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		slog.WarnContext(ctx, "Failed to delete profile", "username", key, "error", err)
		return profile.Wrap("delete", key, err)
	}
	slog.InfoContext(ctx, "Profile cleared", "username", key)
	return nil
}

// ActiveSessions returns the number of logged-in users.
func (c *SessionController) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *SessionController) current(username string) (string, core.BudgetSession, error) {
	key, err := core.NormalizeUsername(username)
	if err != nil {
		return "", core.BudgetSession{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if !ok {
		return key, core.BudgetSession{}, ErrNotLoggedIn
	}
	return key, s, nil
}

// mutate applies fn outside the lock, stores the result and saves it.
// A failed save is returned as *profile.PersistenceError together with the
// new state, which stays in memory.
func (c *SessionController) mutate(ctx context.Context, username, op string, fn func(core.BudgetSession) (core.BudgetSession, error)) (core.BudgetSession, error) {
	key, s, err := c.current(username)
	if err != nil {
		return s, err
	}

	next, err := fn(s)
	if err != nil {
		return s, err
	}

	c.mu.Lock()
	if _, ok := c.sessions[key]; !ok {
		// Logged out or cleared while fn was running; do not resurrect.
		c.mu.Unlock()
		return next, ErrNotLoggedIn
	}
	c.sessions[key] = next
	c.mu.Unlock()

	if err := c.store.Save(context.WithoutCancel(ctx), key, next); err != nil {
		slog.WarnContext(ctx, "Failed to persist profile",
			"username", key,
			"operation", op,
			"error", err)
		return next, profile.Wrap("save", key, err)
	}
	return next, nil
}

func (c *SessionController) publish(ctx context.Context, username string, s core.BudgetSession) {
	if c.publisher == nil || len(s.Expenses) == 0 {
		return
	}
	key, _ := core.NormalizeUsername(username)
	last := s.Expenses[len(s.Expenses)-1]
	msg := &amqp.ExpenseRecordedMessage{
		Username:        key,
		Day:             last.Day,
		TotalDays:       s.TotalDays,
		Amount:          last.Amount,
		Description:     last.Description,
		RemainingBudget: s.RemainingBudget,
		RemainingDays:   s.RemainingDays,
		DailyAllowance:  s.DailyAllowance,
		Timestamp:       last.RecordedAt,
	}
	if err := c.publisher.PublishExpenseRecorded(ctx, msg); err != nil {
		fields := log.NewFields().
			WithExpense(key, last.Day, last.Amount.String(), last.Description).
			WithError(err)
		slog.ErrorContext(ctx, "Failed to publish expense recorded message", fields.ToSlice()...)
	}
}

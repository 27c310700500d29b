package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smartpocket/internal/ai"
	"smartpocket/internal/amqp"
	"smartpocket/internal/chat"
	"smartpocket/internal/core"
	"smartpocket/internal/profile"
	"smartpocket/internal/profile/memory"

	"github.com/shopspring/decimal"
)

type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failSave bool
	saves    int
}

func (f *flakyStore) Save(ctx context.Context, u string, s core.BudgetSession) error {
	f.mu.Lock()
	f.saves++
	fail := f.failSave
	f.mu.Unlock()
	if fail {
		return &profile.PersistenceError{Op: "save", Username: u, Err: errors.New("disk full")}
	}
	return f.Store.Save(ctx, u, s)
}

func (f *flakyStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type recordingPublisher struct {
	mu      sync.Mutex
	msgs    []*amqp.ExpenseRecordedMessage
	ctxErrs []error
	err     error
}

func (p *recordingPublisher) PublishExpenseRecorded(ctx context.Context, m *amqp.ExpenseRecordedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	return p.err
}

func newController(t *testing.T, gw ai.Gateway) (*SessionController, *flakyStore, *recordingPublisher) {
	t.Helper()
	if gw == nil {
		gw = ai.GatewayFunc(func(context.Context, ai.Request) (string, error) { return "Save a bit today.", nil })
	}
	store := &flakyStore{Store: memory.New()}
	pub := &recordingPublisher{}
	c := NewSessionController(store, chat.New(gw, chat.Config{}), pub)
	c.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return c, store, pub
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLoginCreatesAndReloadsProfile(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newController(t, nil)

	s, err := c.Login(ctx, "  Alice ")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.Initialized {
		t.Fatalf("new profile must be uninitialized")
	}
	if _, err := c.StartBudget(ctx, "alice", dec("100"), 5); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Logout(ctx, "ALICE"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := c.Session("alice"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn after logout, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("profile not persisted")
	}

	s, err = c.Login(ctx, "alice")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if !s.Initialized || !s.DailyAllowance.Equal(dec("20")) {
		t.Fatalf("reloaded session = %+v", s)
	}
}

func TestLoginRejectsBlankUsername(t *testing.T) {
	c, _, _ := newController(t, nil)
	if _, err := c.Login(context.Background(), "   "); !errors.Is(err, core.ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestOperationsRequireLogin(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newController(t, nil)

	if _, err := c.StartBudget(ctx, "bob", dec("10"), 1); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("StartBudget: %v", err)
	}
	if _, err := c.RecordExpense(ctx, "bob", dec("1"), ""); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("RecordExpense: %v", err)
	}
	if _, _, err := c.SubmitMessage(ctx, "bob", "hi"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("SubmitMessage: %v", err)
	}
	if _, err := c.ResetBudgetAndChat(ctx, "bob"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Reset: %v", err)
	}
	if err := c.ClearSessionEntirely(ctx, "bob"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Clear: %v", err)
	}
	if err := c.Logout(ctx, "bob"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Logout: %v", err)
	}
}

func TestEveryMutationPersists(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newController(t, nil)
	if _, err := c.Login(ctx, "alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if store.saveCount() != 0 {
		t.Fatalf("login must not persist")
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"start", func() error { _, err := c.StartBudget(ctx, "alice", dec("100"), 5); return err }},
		{"expense", func() error { _, err := c.RecordExpense(ctx, "alice", dec("30"), "comic"); return err }},
		{"chat", func() error { _, _, err := c.SubmitMessage(ctx, "alice", "can I buy a toy?"); return err }},
		{"reset", func() error { _, err := c.ResetBudgetAndChat(ctx, "alice"); return err }},
	}
	for i, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got := store.saveCount(); got != i+1 {
			t.Fatalf("after %s saves = %d, want %d", step.name, got, i+1)
		}
	}

	if _, err := c.Session("alice"); err != nil {
		t.Fatalf("session: %v", err)
	}
	if store.saveCount() != len(steps) {
		t.Fatalf("read accessor persisted")
	}
}

func TestEngineErrorsBlockMutation(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newController(t, nil)
	c.Login(ctx, "alice")

	if _, err := c.StartBudget(ctx, "alice", dec("0"), 5); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := c.RecordExpense(ctx, "alice", dec("1"), ""); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if store.saveCount() != 0 {
		t.Fatalf("rejected mutations must not persist")
	}

	c.StartBudget(ctx, "alice", dec("10"), 1)
	c.RecordExpense(ctx, "alice", dec("1"), "")
	before, _ := c.Session("alice")
	after, err := c.RecordExpense(ctx, "alice", dec("1"), "")
	if !errors.Is(err, core.ErrNoDaysRemaining) {
		t.Fatalf("expected ErrNoDaysRemaining, got %v", err)
	}
	if !after.Equal(before) {
		t.Fatalf("session changed on rejected expense")
	}
	if _, err := c.StartBudget(ctx, "alice", dec("10"), 1); !errors.Is(err, core.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestPersistenceFailureKeepsNewState(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newController(t, nil)
	c.Login(ctx, "alice")
	c.StartBudget(ctx, "alice", dec("100"), 5)

	store.mu.Lock()
	store.failSave = true
	store.mu.Unlock()

	s, err := c.RecordExpense(ctx, "alice", dec("30"), "")
	var pe *profile.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if !s.RemainingBudget.Equal(dec("70")) || s.RemainingDays != 4 {
		t.Fatalf("returned state not updated: %+v", s)
	}
	cur, _ := c.Session("alice")
	if !cur.Equal(s) {
		t.Fatalf("in-memory state rolled back")
	}
}

func TestRecordExpensePublishesEvent(t *testing.T) {
	ctx := context.Background()
	c, _, pub := newController(t, nil)
	c.Login(ctx, "Alice")
	c.StartBudget(ctx, "alice", dec("100"), 5)

	if _, err := c.RecordExpense(ctx, "alice", dec("30"), "comic book"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	m := pub.msgs[0]
	if m.Username != "alice" || m.Day != 1 || m.Description != "comic book" ||
		!m.Amount.Equal(dec("30")) || !m.RemainingBudget.Equal(dec("70")) ||
		m.RemainingDays != 4 || !m.DailyAllowance.Equal(dec("17.5")) {
		t.Fatalf("unexpected message: %+v", m)
	}

	pub.err = errors.New("broker down")
	if _, err := c.RecordExpense(ctx, "alice", dec("5"), ""); err != nil {
		t.Fatalf("publish failure must not fail the action: %v", err)
	}
}

func TestRecordExpensePublishesAfterClientGoesAway(t *testing.T) {
	c, store, pub := newController(t, nil)
	c.Login(context.Background(), "alice")
	c.StartBudget(context.Background(), "alice", dec("100"), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.RecordExpense(ctx, "alice", dec("30"), "comic book"); err != nil {
		t.Fatalf("record: %v", err)
	}

	saved, err := store.Load(context.Background(), "alice")
	if err != nil || saved.RemainingDays != 4 {
		t.Fatalf("saved profile = %+v, %v", saved, err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	if pub.ctxErrs[0] != nil {
		t.Errorf("event published with a cancelled context: %v", pub.ctxErrs[0])
	}
}

func TestSubmitMessageWithFailingBackend(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newController(t, ai.GatewayFunc(func(context.Context, ai.Request) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	}))
	c.Login(ctx, "alice")
	c.StartBudget(ctx, "alice", dec("100"), 5)

	s, reply, err := c.SubmitMessage(ctx, "alice", "can I buy a toy for ₹50?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last, _ := s.LastTurn()
	if last.Role != core.RoleAssistant || last.Content != reply || !chat.IsErrorReply(reply) {
		t.Fatalf("unexpected last turn %+v", last)
	}
	stored, err := store.Load(ctx, "alice")
	if err != nil || len(stored.ChatHistory) != 2 {
		t.Fatalf("transcript not persisted: %v %+v", err, stored.ChatHistory)
	}
}

func TestResetKeepsLoginClearDropsProfile(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newController(t, nil)
	c.Login(ctx, "alice")
	c.StartBudget(ctx, "alice", dec("100"), 5)
	c.SubmitMessage(ctx, "alice", "hello")

	s, err := c.ResetBudgetAndChat(ctx, "alice")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s.Initialized || len(s.ChatHistory) != 0 {
		t.Fatalf("reset left state: %+v", s)
	}
	if _, err := c.Session("alice"); err != nil {
		t.Fatalf("reset must keep the login: %v", err)
	}

	if err := c.ClearSessionEntirely(ctx, "alice"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := c.Session("alice"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("clear must drop the login, got %v", err)
	}
	if _, err := store.Load(ctx, "alice"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("clear must delete the profile, got %v", err)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newController(t, nil)
	c.Login(ctx, "alice")
	c.Login(ctx, "bob")
	c.StartBudget(ctx, "alice", dec("100"), 5)

	bob, err := c.Session("bob")
	if err != nil || bob.Initialized {
		t.Fatalf("bob affected by alice: %+v %v", bob, err)
	}
	if c.ActiveSessions() != 2 {
		t.Fatalf("active sessions = %d", c.ActiveSessions())
	}
}

func TestConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newController(t, nil)
	users := []string{"u1", "u2", "u3", "u4"}
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			c.Login(ctx, u)
			c.StartBudget(ctx, u, dec("40"), 4)
			for i := 0; i < 4; i++ {
				c.RecordExpense(ctx, u, dec("5"), "")
			}
		}(u)
	}
	wg.Wait()

	for _, u := range users {
		s, err := c.Session(u)
		if err != nil || s.RemainingDays != 0 || !s.RemainingBudget.Equal(dec("20")) {
			t.Fatalf("%s: %+v %v", u, s, err)
		}
	}
}

// Package profiletest holds the behaviour every profile.Store adapter must share.
package profiletest

import (
	"context"
	"errors"
	"testing"
	"time"

	"smartpocket/internal/core"
	"smartpocket/internal/profile"

	"github.com/shopspring/decimal"
)

// SampleSession returns an initialized session with one expense and a short chat.
func SampleSession(t *testing.T) core.BudgetSession {
	t.Helper()
	s, err := core.StartBudget(core.BudgetSession{}, decimal.RequireFromString("100"), 5)
	if err != nil {
		t.Fatalf("start budget: %v", err)
	}
	s, err = core.RecordExpense(s, decimal.RequireFromString("30"), "comic book",
		time.Date(2025, 3, 1, 17, 4, 5, 0, time.FixedZone("IST", 19800)))
	if err != nil {
		t.Fatalf("record expense: %v", err)
	}
	s = core.AppendTurn(s, core.RoleUser, "Can I buy ice cream?")
	s = core.AppendTurn(s, core.RoleAssistant, "Yes, a small one fits your ₹17.50 for today.")
	return s
}

// RunStoreContract exercises round-trip, overwrite, isolation and delete.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) profile.Store) {
	ctx := context.Background()

	t.Run("missing profile", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.Load(ctx, "nobody"); !errors.Is(err, profile.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		st := newStore(t)
		want := SampleSession(t)
		if err := st.Save(ctx, "alice", want); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := st.Load(ctx, "alice")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
		}
	})

	t.Run("uninitialized round trip", func(t *testing.T) {
		st := newStore(t)
		if err := st.Save(ctx, "fresh", core.BudgetSession{}); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := st.Load(ctx, "fresh")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got.Initialized || len(got.ChatHistory) != 0 || len(got.Expenses) != 0 {
			t.Fatalf("unexpected state: %+v", got)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		st := newStore(t)
		first := SampleSession(t)
		if err := st.Save(ctx, "alice", first); err != nil {
			t.Fatalf("save: %v", err)
		}
		second, err := core.RecordExpense(first, decimal.RequireFromString("5.25"), "", time.Now())
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := st.Save(ctx, "alice", second); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := st.Load(ctx, "alice")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !got.Equal(second) {
			t.Fatalf("expected latest snapshot, got %+v", got)
		}
	})

	t.Run("users are isolated", func(t *testing.T) {
		st := newStore(t)
		if err := st.Save(ctx, "alice", SampleSession(t)); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := st.Save(ctx, "bob", core.BudgetSession{}); err != nil {
			t.Fatalf("save: %v", err)
		}
		bob, err := st.Load(ctx, "bob")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if bob.Initialized {
			t.Fatalf("bob picked up alice's session")
		}
	})

	t.Run("delete", func(t *testing.T) {
		st := newStore(t)
		if err := st.Save(ctx, "alice", SampleSession(t)); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := st.Delete(ctx, "alice"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := st.Load(ctx, "alice"); !errors.Is(err, profile.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := st.Delete(ctx, "alice"); err != nil {
			t.Fatalf("deleting a missing profile must succeed, got %v", err)
		}
	})
}

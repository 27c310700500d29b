package profile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"smartpocket/internal/cache"
	"smartpocket/internal/core"
	"smartpocket/internal/profile"
	"smartpocket/internal/profile/memory"
	"smartpocket/internal/profile/profiletest"
)

func TestRecordRoundTrip(t *testing.T) {
	want := profiletest.SampleSession(t)
	rec := profile.NewRecord("alice", want, time.Now())
	if rec.SchemaVersion != profile.SchemaVersion || rec.Username != "alice" {
		t.Fatalf("unexpected header: %+v", rec)
	}
	got, err := rec.Session()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("record round trip mismatch")
	}
}

func TestRecordRejectsUnknownSchema(t *testing.T) {
	rec := profile.NewRecord("alice", core.BudgetSession{}, time.Now())
	rec.SchemaVersion = 2
	if _, err := rec.Session(); !errors.Is(err, profile.ErrUnsupportedSchema) {
		t.Fatalf("expected ErrUnsupportedSchema, got %v", err)
	}
}

func TestWrap(t *testing.T) {
	if profile.Wrap("load", "a", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if err := profile.Wrap("load", "a", profile.ErrNotFound); err != profile.ErrNotFound {
		t.Fatalf("ErrNotFound must pass through, got %v", err)
	}
	err := profile.Wrap("save", "a", errors.New("disk full"))
	var pe *profile.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "save" || pe.Username != "a" {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if again := profile.Wrap("save", "a", err); again != err {
		t.Fatalf("double wrap")
	}
}

type failingStore struct {
	profile.Store
	failSave bool
	loads    int
}

func (f *failingStore) Load(ctx context.Context, u string) (core.BudgetSession, error) {
	f.loads++
	return f.Store.Load(ctx, u)
}

func (f *failingStore) Save(ctx context.Context, u string, s core.BudgetSession) error {
	if f.failSave {
		return &profile.PersistenceError{Op: "save", Username: u, Err: errors.New("boom")}
	}
	return f.Store.Save(ctx, u, s)
}

func TestCachedStoreContract(t *testing.T) {
	profiletest.RunStoreContract(t, func(t *testing.T) profile.Store {
		return profile.NewCachedStore(memory.New(), cache.NewLRUCache[core.BudgetSession](8, time.Minute))
	})
}

func TestCachedStoreReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &failingStore{Store: memory.New()}
	st := profile.NewCachedStore(inner, cache.NewLRUCache[core.BudgetSession](8, time.Minute))

	if err := inner.Store.Save(ctx, "alice", profiletest.SampleSession(t)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := st.Load(ctx, "alice"); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if inner.loads != 1 {
		t.Fatalf("inner loads = %d, want 1", inner.loads)
	}
}

func TestCachedStoreDropsEntryOnFailedSave(t *testing.T) {
	ctx := context.Background()
	inner := &failingStore{Store: memory.New()}
	c := cache.NewLRUCache[core.BudgetSession](8, time.Minute)
	st := profile.NewCachedStore(inner, c)

	if err := st.Save(ctx, "alice", profiletest.SampleSession(t)); err != nil {
		t.Fatalf("save: %v", err)
	}
	inner.failSave = true
	err := st.Save(ctx, "alice", core.BudgetSession{})
	var pe *profile.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if _, ok := c.Get("alice"); ok {
		t.Fatalf("cache kept an entry after a failed save")
	}
}

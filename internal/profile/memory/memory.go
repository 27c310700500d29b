package memory

import (
	"context"
	"sync"
	"time"

	"smartpocket/internal/core"
	"smartpocket/internal/profile"
)

// Store keeps profile snapshots in process memory. Contents are lost on exit.
type Store struct {
	mu      sync.Mutex
	records map[string]profile.Record
	now     func() time.Time
}

func New() *Store {
	return &Store{records: make(map[string]profile.Record), now: time.Now}
}

func (s *Store) Load(_ context.Context, username string) (core.BudgetSession, error) {
	s.mu.Lock()
	rec, ok := s.records[username]
	s.mu.Unlock()
	if !ok {
		return core.BudgetSession{}, profile.ErrNotFound
	}
	return rec.Session()
}

func (s *Store) Save(_ context.Context, username string, sess core.BudgetSession) error {
	rec := profile.NewRecord(username, sess, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[username] = rec
	return nil
}

func (s *Store) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, username)
	return nil
}

// Len returns the number of stored profiles.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"smartpocket/internal/sheets"
)

// Store keeps ledger rows in process memory.
type Store struct {
	mu   sync.Mutex
	rows []sheets.LedgerRow
}

var (
	_ sheets.LedgerWriter = (*Store)(nil)
	_ sheets.LedgerReader = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

// AppendRow stores the row and returns a synthetic row reference.
func (s *Store) AppendRow(_ context.Context, row sheets.LedgerRow) (string, error) {
	if row.Username == "" {
		return "", errors.New("ledger row without username")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

func (s *Store) ListRows(_ context.Context, username string) ([]sheets.LedgerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sheets.LedgerRow
	for _, r := range s.rows {
		if r.Username == username {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len returns the number of rows across all users.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Package file stores one JSON snapshot per user in a directory.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"smartpocket/internal/core"
	"smartpocket/internal/profile"
)

const fileExt = ".json"

type Store struct {
	dir string
	now func() time.Time
}

// New creates the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// path maps a username to its file. The SHA-256 digest keeps names free of
// path separators and at a fixed length whatever the username's encoding.
func (s *Store) path(username string) string {
	sum := sha256.Sum256([]byte(username))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+fileExt)
}

func (s *Store) Load(_ context.Context, username string) (core.BudgetSession, error) {
	data, err := os.ReadFile(s.path(username))
	if errors.Is(err, fs.ErrNotExist) {
		return core.BudgetSession{}, profile.ErrNotFound
	}
	if err != nil {
		return core.BudgetSession{}, profile.Wrap("load", username, err)
	}
	var rec profile.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.BudgetSession{}, profile.Wrap("load", username, fmt.Errorf("decode snapshot: %w", err))
	}
	return rec.Session()
}

// Save writes to a temp file in the same directory and renames it over the
// previous snapshot so readers never see a partial file.
func (s *Store) Save(_ context.Context, username string, sess core.BudgetSession) error {
	data, err := json.MarshalIndent(profile.NewRecord(username, sess, s.now()), "", "  ")
	if err != nil {
		return profile.Wrap("save", username, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".profile-*")
	if err != nil {
		return profile.Wrap("save", username, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return profile.Wrap("save", username, err)
	}
	if err := tmp.Close(); err != nil {
		return profile.Wrap("save", username, err)
	}
	if err := os.Rename(tmp.Name(), s.path(username)); err != nil {
		return profile.Wrap("save", username, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, username string) error {
	err := os.Remove(s.path(username))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return profile.Wrap("delete", username, err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"smartpocket/internal/core"
	"smartpocket/internal/profile"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements profile.Store on a single SQLite database.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("Profile schema ready", "path", dbPath, "migration", version)

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const upsertProfile = `
INSERT INTO profiles (
    username, schema_version, total_budget, remaining_budget, total_days,
    remaining_days, daily_allowance, initialized, chat_history, expenses, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(username) DO UPDATE SET
    schema_version   = excluded.schema_version,
    total_budget     = excluded.total_budget,
    remaining_budget = excluded.remaining_budget,
    total_days       = excluded.total_days,
    remaining_days   = excluded.remaining_days,
    daily_allowance  = excluded.daily_allowance,
    initialized      = excluded.initialized,
    chat_history     = excluded.chat_history,
    expenses         = excluded.expenses,
    updated_at       = excluded.updated_at`

const selectProfile = `
SELECT schema_version, total_budget, remaining_budget, total_days,
       remaining_days, daily_allowance, initialized, chat_history, expenses, updated_at
FROM profiles WHERE username = ?`

// Save implements profile.Store
func (r *SQLiteRepository) Save(ctx context.Context, username string, s core.BudgetSession) error {
	rec := profile.NewRecord(username, s, r.now())

	chat, err := json.Marshal(rec.ChatHistory)
	if err != nil {
		return profile.Wrap("save", username, fmt.Errorf("encode chat history: %w", err))
	}
	expenses, err := json.Marshal(rec.Expenses)
	if err != nil {
		return profile.Wrap("save", username, fmt.Errorf("encode expenses: %w", err))
	}

	_, err = r.db.ExecContext(ctx, upsertProfile,
		username,
		rec.SchemaVersion,
		rec.TotalBudget,
		rec.RemainingBudget,
		rec.TotalDays,
		rec.RemainingDays,
		rec.DailyAllowance,
		rec.Initialized,
		string(chat),
		string(expenses),
		rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return profile.Wrap("save", username, fmt.Errorf("upsert profile: %w", err))
	}

	slog.DebugContext(ctx, "Profile saved to SQLite",
		"username", username,
		"remaining_days", rec.RemainingDays,
		"chat_turns", len(rec.ChatHistory))
	return nil
}

// Load implements profile.Store
func (r *SQLiteRepository) Load(ctx context.Context, username string) (core.BudgetSession, error) {
	rec := profile.Record{Username: username}
	var chat, expenses, updatedAt string
	err := r.db.QueryRowContext(ctx, selectProfile, username).Scan(
		&rec.SchemaVersion,
		&rec.TotalBudget,
		&rec.RemainingBudget,
		&rec.TotalDays,
		&rec.RemainingDays,
		&rec.DailyAllowance,
		&rec.Initialized,
		&chat,
		&expenses,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetSession{}, profile.ErrNotFound
	}
	if err != nil {
		return core.BudgetSession{}, profile.Wrap("load", username, fmt.Errorf("select profile: %w", err))
	}

	if err := json.Unmarshal([]byte(chat), &rec.ChatHistory); err != nil {
		return core.BudgetSession{}, profile.Wrap("load", username, fmt.Errorf("decode chat history: %w", err))
	}
	if err := json.Unmarshal([]byte(expenses), &rec.Expenses); err != nil {
		return core.BudgetSession{}, profile.Wrap("load", username, fmt.Errorf("decode expenses: %w", err))
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec.Session()
}

// Delete implements profile.Store
func (r *SQLiteRepository) Delete(ctx context.Context, username string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE username = ?`, username); err != nil {
		return profile.Wrap("delete", username, fmt.Errorf("delete profile: %w", err))
	}
	slog.InfoContext(ctx, "Profile deleted from SQLite", "username", username)
	return nil
}

// CountProfiles returns the number of stored profiles.
func (r *SQLiteRepository) CountProfiles(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

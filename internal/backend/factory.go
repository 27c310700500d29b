package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"smartpocket/internal/cache"
	"smartpocket/internal/core"
	"smartpocket/internal/profile"
	"smartpocket/internal/profile/file"
	"smartpocket/internal/profile/memory"
	"smartpocket/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
	caches *cache.Manager
}

// NewFactory creates a new backend factory. Profile caches are registered
// with caches for periodic sweeping; caches may be nil.
func NewFactory(logger *slog.Logger, caches *cache.Manager) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
		caches: caches,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	case FileBackend:
		result, err = f.createFileBackend(config)
	case MemoryBackend:
		result, err = f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	if config.CacheSize > 0 {
		lru := cache.NewLRUCache[core.BudgetSession](config.CacheSize, config.CacheTTL)
		result.Store = profile.NewCachedStore(result.Store, lru)
		if f.caches != nil {
			f.caches.Register("profiles", lru)
		}
		f.logger.InfoContext(ctx, "Enabled profile cache",
			"max_size", config.CacheSize,
			"ttl", config.CacheTTL)
	}
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &BackendResult{
		Store:   repo,
		Ping:    repo.Ping,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createFileBackend(config Config) (*BackendResult, error) {
	store, err := file.New(config.ProfileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file backend: %w", err)
	}

	f.logger.Info("Initialized file backend", "profile_dir", config.ProfileDir)
	return &BackendResult{
		Store: store,
		Ping: func(context.Context) error {
			_, err := os.Stat(config.ProfileDir)
			return err
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	f.logger.Info("Initialized memory backend; profiles are lost on restart")
	return &BackendResult{
		Store: memory.New(),
		Ping:  func(context.Context) error { return nil },
	}, nil
}

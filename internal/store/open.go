package store

import (
	"context"
	"fmt"
	"os"

	"groupchat/internal/config"
	"groupchat/internal/database"
)

// Open returns the backend selected by cfg.StorageDriver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case config.DriverBadger:
		if cfg.BadgerPath != "" {
			if err := os.MkdirAll(cfg.BadgerPath, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create badger directory: %w", err)
			}
		}
		return OpenBadger(cfg.BadgerPath)
	case config.DriverMySQL, config.DriverSQLite:
		db, err := database.Init(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLStore(ctx, db, cfg.StorageDriver)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

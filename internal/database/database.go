package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"groupchat/internal/config"
)

// MySQLDSN builds the go-sql-driver DSN from the DB_* settings.
func MySQLDSN(cfg config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)
}

// Init opens the SQL database selected by cfg.StorageDriver and checks the
// connection.
func Init(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	var dsn string
	switch cfg.StorageDriver {
	case config.DriverMySQL:
		dsn = MySQLDSN(cfg)
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		dsn = cfg.SQLitePath + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL"
	default:
		return nil, fmt.Errorf("driver %q is not an sql driver", cfg.StorageDriver)
	}

	db, err := sql.Open(cfg.StorageDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 接続テスト
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.StorageDriver == config.DriverSQLite {
		// SQLite allows a single writer; one connection avoids "database is locked".
		db.SetMaxOpenConns(1)
	}

	log.Printf("✅ Database connection established (%s)", cfg.StorageDriver)
	return db, nil
}

package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"groupchat/internal/config"
)

func TestMySQLDSN(t *testing.T) {
	cfg := config.Config{DBUser: "chat", DBPassword: "secret", DBHost: "db", DBPort: "3307", DBName: "groupchat"}
	require.Equal(t, "chat:secret@tcp(db:3307)/groupchat?parseTime=true", MySQLDSN(cfg))
}

// TestInit_SQLite 存在しないディレクトリも作成して接続できる
func TestInit_SQLite(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "nested", "chat.db")

	db, err := Init(context.Background(), config.Config{StorageDriver: config.DriverSQLite, SQLitePath: path})
	req.NoError(err)
	defer db.Close()

	var journal string
	req.NoError(db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	req.Equal("wal", journal)
}

func TestInit_RejectsNonSQLDriver(t *testing.T) {
	_, err := Init(context.Background(), config.Config{StorageDriver: config.DriverBadger})
	require.ErrorContains(t, err, "not an sql driver")
}

package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"groupchat/internal/config"
)

// TestRunServer_StopsOnCancel シグナル受信でサーバーが正常終了する
func TestRunServer_StopsOnCancel(t *testing.T) {
	req := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	addr := ln.Addr().String()
	req.NoError(ln.Close())

	srv := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	req.Eventually(func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(shutdownTimeout):
		req.Fail("server did not stop")
	}
}

// TestRunServer_ListenError 待ち受けに失敗したらエラーを返す
func TestRunServer_ListenError(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1"}
	require.Error(t, runServer(context.Background(), srv))
}

func TestStorageLabel(t *testing.T) {
	req := require.New(t)
	req.Equal("badger data/badger", storageLabel(config.Config{StorageDriver: config.DriverBadger, BadgerPath: "data/badger"}))
	req.Equal("sqlite3 chat.db", storageLabel(config.Config{StorageDriver: config.DriverSQLite, SQLitePath: "chat.db"}))
	req.Equal("mysql app@db:3306/chat", storageLabel(config.Config{
		StorageDriver: config.DriverMySQL,
		DBUser:        "app",
		DBHost:        "db",
		DBPort:        "3306",
		DBName:        "chat",
	}))
}

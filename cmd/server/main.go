package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"groupchat/internal/config"
	"groupchat/internal/engine"
	"groupchat/internal/handler"
	"groupchat/internal/moderation"
	"groupchat/internal/presence"
	"groupchat/internal/search"
	"groupchat/internal/store"
	"groupchat/internal/upload"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  .env file not found, using environment only: %v", err)
	}

	// 環境変数を読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
	log.Println("👋 Server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	// ストレージを初期化
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("❌ Failed to close storage: %v", err)
		}
	}()

	// 検索インデックスは起動時にメッセージログから作り直す
	index, err := search.Open(cfg.SearchIndexPath)
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	defer index.Close()

	messages, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	if err := index.Rebuild(messages); err != nil {
		return fmt.Errorf("failed to rebuild search index: %w", err)
	}

	uploads, err := upload.NewStore(cfg.UploadDir)
	if err != nil {
		return err
	}

	mask, err := cfg.CensorRune()
	if err != nil {
		return err
	}
	censor, err := moderation.NewCensor(cfg.CensoredWords, mask)
	if err != nil {
		return err
	}

	eng := engine.New(st, st, presence.NewRegistry(), engine.Options{
		Censor:  censor,
		Index:   index,
		Cleaner: uploads,
	})

	// ハンドラー初期化
	h := handler.New(cfg, eng, st, uploads)
	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("========================================")
	fmt.Println("  Group Chat Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	fmt.Printf("  Storage: %s\n", storageLabel(cfg))
	fmt.Printf("  Messages: %d\n", len(messages))
	fmt.Printf("  Uploads: %s (max %d bytes)\n", cfg.UploadDir, cfg.MaxUploadSize)
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	if len(cfg.CensoredWords) > 0 {
		fmt.Printf("  Censored words: %d\n", len(cfg.CensoredWords))
	}
	fmt.Println("========================================")
	log.Println("🚀 Server started successfully")

	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func storageLabel(cfg config.Config) string {
	switch cfg.StorageDriver {
	case config.DriverMySQL:
		return fmt.Sprintf("mysql %s@%s:%s/%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	case config.DriverSQLite:
		return "sqlite3 " + cfg.SQLitePath
	default:
		return "badger " + cfg.BadgerPath
	}
}

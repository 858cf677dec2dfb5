package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

// Storage drivers.
const (
	DriverBadger = "badger"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// defaultAllowedOrigins is applied in code because go-env splits tag
// options on commas.
const defaultAllowedOrigins = "http://localhost:3000,http://127.0.0.1:3000,http://localhost:5173"

// Config holds application configuration
type Config struct {
	// ストレージ設定
	StorageDriver string `env:"STORAGE_DRIVER,default=badger"`
	BadgerPath    string `env:"BADGER_PATH,default=data/badger"`
	SQLitePath    string `env:"SQLITE_PATH,default=data/chat.db"`

	// MariaDB接続設定
	DBHost     string `env:"DB_HOST,default=localhost"`
	DBPort     string `env:"DB_PORT,default=3306"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`

	// サーバー設定
	ServerPort string `env:"SERVER_PORT,default=8080"`
	Env        string `env:"ENV,default=development"`

	// CORS設定
	RawAllowedOrigins string `env:"ALLOWED_ORIGINS"`
	AllowedOrigins    []string

	// アップロード・検索
	UploadDir       string `env:"UPLOAD_DIR,default=uploads"`
	MaxUploadSize   int64  `env:"MAX_UPLOAD_SIZE,default=104857600"`
	SearchIndexPath string `env:"SEARCH_INDEX_PATH,default=data/search"`

	// Moderation. An empty word list disables censoring.
	RawCensoredWords string `env:"CENSORED_WORDS"`
	CensoredWords    []string
	CensorChar       string `env:"CENSOR_CHAR,default=*"`

	// WebSocket
	SendBuffer   int           `env:"WS_SEND_BUFFER,default=256"`
	PingInterval time.Duration `env:"WS_PING_INTERVAL,default=50s"`
	PongWait     time.Duration `env:"WS_PONG_WAIT,default=60s"`
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	if cfg.RawAllowedOrigins == "" {
		cfg.RawAllowedOrigins = defaultAllowedOrigins
	}
	cfg.AllowedOrigins = splitList(cfg.RawAllowedOrigins)
	cfg.CensoredWords = splitList(cfg.RawCensoredWords)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverBadger, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of %s, %s, %s; got %q",
			DriverBadger, DriverMySQL, DriverSQLite, c.StorageDriver)
	}
	if _, err := c.CensorRune(); err != nil {
		return err
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	if c.PingInterval > 0 && c.PingInterval >= c.PongWait {
		return fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_PONG_WAIT (%s)", c.PingInterval, c.PongWait)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	return nil
}

// CensorRune returns CENSOR_CHAR as a single rune.
func (c Config) CensorRune() (rune, error) {
	r := []rune(c.CensorChar)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CENSOR_CHAR must be a single character, got %q",
			c.CensorChar,
		)
	}
	return r[0], nil
}

// OriginAllowed reports whether origin may open a WebSocket or read the API.
// A "*" entry allows every origin.
func (c Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

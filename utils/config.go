// utils/config.go
package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port              string
	DatabaseURL       string
	DBDriver          string
	AllowedOrigins    string
	GatewayToken      string
	LogLevel          string
	SyncServiceURL    string
	ReconcileInterval time.Duration
	IdleSweepInterval time.Duration
	WSInputRate       float64
	R2                R2Config
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// Enabled reports whether enough R2 settings are present to archive brackets.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

// LoadConfig reads settings from the environment. Call godotenv.Load first.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:           getenv("PORT", "5200"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBDriver:       strings.ToLower(getenv("DB_DRIVER", "postgres")),
		AllowedOrigins: normalizeOrigins(getenv("ALLOWED_ORIGINS", "http://localhost:3000")),
		GatewayToken:   os.Getenv("GAME_SERVICE_TOKEN"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		SyncServiceURL: os.Getenv("SYNC_SERVICE_URL"),
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
			CDNBaseURL:      os.Getenv("CDN_BASE_URL"),
		},
	}

	var err error
	if cfg.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.IdleSweepInterval, err = durationEnv("IDLE_SWEEP_INTERVAL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.WSInputRate, err = floatEnv("WS_INPUT_RATE", 120); err != nil {
		return cfg, err
	}

	switch cfg.DBDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL environment variable not set")
		}
	case "sqlite":
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "pong-arena.db"
		}
	default:
		return cfg, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	return cfg, nil
}

// OpenDB opens the configured database.
func OpenDB(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if cfg.DBDriver == "sqlite" {
		dialector = sqlite.Open(cfg.DatabaseURL)
	} else {
		dialector = postgres.Open(cfg.DatabaseURL)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return f, nil
}

// normalizeOrigins trims spaces around each comma separated origin.
func normalizeOrigins(s string) string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

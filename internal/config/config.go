package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config はサーバー側（serve / worker / migrate）の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string
	JWTSecret          string
	JWTAudience        string

	// Photo
	PhotoBucket           string
	PhotoMaxBytes         int64
	PhotoCacheControl     int
	PhotoFetchTimeout     time.Duration
	PhotoSourceMaxBytes   int64
	PhotoMaxPixels        int64
	AllowSelfVerification bool

	// Rate Limit
	RateLimitGeneral int
	RateLimitUpload  int

	// Dashboard
	DashboardLocation       *time.Location
	DashboardPartialResults bool

	// Orphan sweep
	OrphanSweepInterval time.Duration
	OrphanGracePeriod   time.Duration

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// ClientConfig はclientサブコマンドの設定を保持する。
type ClientConfig struct {
	SupabaseURL      string
	SupabaseAnonKey  string
	APIBaseURL       string
	SessionCachePath string
	AuthTimeout      time.Duration
	LogLevel         slog.Level
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	cfg.SupabaseServiceKey = os.Getenv("SUPABASE_SERVICE_KEY")
	if cfg.SupabaseServiceKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_KEY")
	}

	cfg.JWTSecret = os.Getenv("SUPABASE_JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "SUPABASE_JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	loc, err := time.LoadLocation(getEnvString("DASHBOARD_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid DASHBOARD_TIMEZONE: %w", err)
	}
	cfg.DashboardLocation = loc

	// Optional fields with defaults
	cfg.JWTAudience = getEnvString("JWT_AUDIENCE", "authenticated")
	cfg.PhotoBucket = getEnvString("PHOTO_BUCKET", "habit_photos")
	cfg.PhotoMaxBytes = getEnvInt64("PHOTO_MAX_BYTES", 5242880)
	cfg.PhotoCacheControl = getEnvInt("PHOTO_CACHE_CONTROL", 3600)
	cfg.PhotoFetchTimeout = getEnvDuration("PHOTO_FETCH_TIMEOUT", 10*time.Second)
	cfg.PhotoSourceMaxBytes = getEnvInt64("PHOTO_SOURCE_MAX_BYTES", 20971520)
	cfg.PhotoMaxPixels = getEnvInt64("PHOTO_MAX_PIXELS", 40000000)
	cfg.AllowSelfVerification = getEnvBool("ALLOW_SELF_VERIFICATION", true)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpload = getEnvInt("RATE_LIMIT_UPLOAD", 10)
	cfg.DashboardPartialResults = getEnvBool("DASHBOARD_PARTIAL_RESULTS", false)
	cfg.OrphanSweepInterval = getEnvDuration("ORPHAN_SWEEP_INTERVAL", 24*time.Hour)
	cfg.OrphanGracePeriod = getEnvDuration("ORPHAN_GRACE_PERIOD", 24*time.Hour)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:19006")

	return cfg, nil
}

// LoadClient は環境変数からClientConfigを読み込む。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}

	var missing []string

	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	if cfg.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.APIBaseURL = strings.TrimRight(getEnvString("API_BASE_URL", "http://localhost:8080"), "/")
	cfg.SessionCachePath = getEnvString("SESSION_CACHE_PATH", defaultSessionCachePath())
	cfg.AuthTimeout = getEnvDuration("AUTH_TIMEOUT", 15*time.Second)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)

	return cfg, nil
}

func defaultSessionCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".fitjourney", "session.db")
	}
	return filepath.Join(home, ".fitjourney", "session.db")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}

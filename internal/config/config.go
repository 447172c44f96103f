package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge int

	// Exchange rate
	ExchangeRateAPIURL string
	ExchangeRateAPIKey string
	RateCacheTTL       time.Duration
	RateFetchTimeout   time.Duration

	// Session sync
	SyncIdleTTL       time.Duration
	EmployerHomePath  string
	ApplicantHomePath string

	// Careers feed fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	FetchInterval      time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitJobPost int

	// Retention
	JobRetentionDays int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	// APIキー未設定の場合はレート取得が常に失敗し、組み込みの概算レートで換算する
	cfg.ExchangeRateAPIKey = os.Getenv("EXCHANGE_RATE_API_KEY")
	cfg.ExchangeRateAPIURL = getEnvString("EXCHANGE_RATE_API_URL", "https://v6.exchangerate-api.com/v6")
	cfg.RateCacheTTL = getEnvDuration("RATE_CACHE_TTL", time.Hour)
	cfg.RateFetchTimeout = getEnvDuration("RATE_FETCH_TIMEOUT", 10*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SyncIdleTTL = getEnvDuration("SYNC_IDLE_TTL", 30*time.Minute)
	cfg.EmployerHomePath = getEnvString("EMPLOYER_HOME_PATH", "/employer/dashboard")
	cfg.ApplicantHomePath = getEnvString("APPLICANT_HOME_PATH", "/jobs")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 5)
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", 30*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitJobPost = getEnvInt("RATE_LIMIT_JOB_POST", 10)
	cfg.JobRetentionDays = getEnvInt("JOB_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は既定値で補えない設定値の矛盾を検出する。
func (c *Config) validate() error {
	var problems []string
	for key, path := range map[string]string{
		"EMPLOYER_HOME_PATH":  c.EmployerHomePath,
		"APPLICANT_HOME_PATH": c.ApplicantHomePath,
	} {
		if !strings.HasPrefix(path, "/") {
			problems = append(problems, key+" must start with /")
		}
	}
	if c.RateCacheTTL <= 0 {
		problems = append(problems, "RATE_CACHE_TTL must be positive")
	}
	if c.SyncIdleTTL <= 0 {
		problems = append(problems, "SYNC_IDLE_TTL must be positive")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// アクセスガードの認証方式
const (
	GuardStrategySession = "session"
	GuardStrategyStatic  = "static"
	GuardStrategyToken   = "token"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// Session
	SessionSecret          string
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// API access
	GuardStrategy string
	APIKey        string
	APITokenTTL   time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitToken   int
	TrustedProxies   []string

	// Events
	KafkaBrokers []string
	KafkaTopic   string

	// Views
	DocsURL           string
	TokenTemplatePath string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigins []string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GitHubClientID = required("GITHUB_CLIENT_ID")
	cfg.GitHubClientSecret = required("GITHUB_CLIENT_SECRET")
	cfg.GitHubRedirectURL = required("GITHUB_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.BaseURL = required("BASE_URL")

	cfg.GuardStrategy = strings.ToLower(getEnvString("GUARD_STRATEGY", GuardStrategyToken))
	cfg.APIKey = os.Getenv("API_KEY")
	if cfg.GuardStrategy == GuardStrategyStatic && cfg.APIKey == "" {
		missing = append(missing, "API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.GuardStrategy {
	case GuardStrategySession, GuardStrategyStatic, GuardStrategyToken:
	default:
		return nil, fmt.Errorf("invalid GUARD_STRATEGY %q (allowed: session, static, token)", cfg.GuardStrategy)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.APITokenTTL = getEnvDuration("API_TOKEN_TTL", 30*24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitToken = getEnvInt("RATE_LIMIT_TOKEN", 10)
	cfg.TrustedProxies = getEnvList("TRUSTED_PROXIES", nil)
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS", nil)
	cfg.KafkaTopic = getEnvString("KAFKA_TOPIC", "itembox.events")
	cfg.DocsURL = getEnvString("DOCS_URL", "/api-docs")
	cfg.TokenTemplatePath = getEnvString("TOKEN_TEMPLATE_PATH", "views/token.html")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"})

	return cfg, nil
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

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

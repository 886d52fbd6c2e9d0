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

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Paystack
	PaystackSecretKey string
	PaystackPublicKey string
	PaystackBaseURL   string
	PaystackTimeout   time.Duration

	// Pro Plan
	ProPlanName     string
	ProPlanAmount   int64
	ProPlanCurrency string
	ProPlanInterval string

	// Identity
	IdentityJWTSecret string
	IdentityJWTIssuer string

	// Redis（空の場合はプロセス内キャッシュ）
	RedisURL string

	// SES（空の場合はログ出力のみ）
	SESRegion string
	SESSender string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral  int
	RateLimitCheckout int

	// Usage
	UsageResetInterval time.Duration

	// Server
	ServerPort string
	BaseURL    string
	AppURL     string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
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
	cfg.PaystackSecretKey = required("PAYSTACK_SECRET_KEY")
	cfg.PaystackPublicKey = required("PAYSTACK_PUBLIC_KEY")
	cfg.IdentityJWTSecret = required("IDENTITY_JWT_SECRET")
	cfg.BaseURL = strings.TrimRight(required("BASE_URL"), "/")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PaystackBaseURL = strings.TrimRight(getEnvString("PAYSTACK_BASE_URL", "https://api.paystack.co"), "/")
	cfg.PaystackTimeout = getEnvDuration("PAYSTACK_TIMEOUT", 10*time.Second)
	cfg.ProPlanName = getEnvString("PRO_PLAN_NAME", "Pro Plan - Monthly")
	cfg.ProPlanAmount = getEnvInt64("PRO_PLAN_AMOUNT", 1000)
	cfg.ProPlanCurrency = getEnvString("PRO_PLAN_CURRENCY", "ZAR")
	cfg.ProPlanInterval = getEnvString("PRO_PLAN_INTERVAL", "monthly")
	cfg.IdentityJWTIssuer = getEnvString("IDENTITY_JWT_ISSUER", "")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.SESRegion = getEnvString("SES_REGION", "")
	cfg.SESSender = getEnvString("SES_SENDER", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckout = getEnvInt("RATE_LIMIT_CHECKOUT", 10)
	cfg.UsageResetInterval = getEnvDuration("USAGE_RESET_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AppURL = strings.TrimRight(getEnvString("APP_URL", cfg.BaseURL), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// CallbackURL は決済ページからの戻り先URLを返す。
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/api/subscription/verify"
}

// DashboardURL は決済検証後のリダイレクト先を返す。
func (c *Config) DashboardURL() string {
	return c.AppURL + "/dashboard"
}

// SESEnabled はSESでメールを送信するかを返す。
func (c *Config) SESEnabled() bool {
	return c.SESRegion != "" && c.SESSender != ""
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

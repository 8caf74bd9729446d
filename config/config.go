package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App        AppConfig        `koanf:"app"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Stripe     StripeConfig     `koanf:"stripe"`
	JWT        JWTConfig        `koanf:"jwt"`
	SMTP       SMTPConfig       `koanf:"smtp"`
	Cloudinary CloudinaryConfig `koanf:"cloudinary"`
	Reconcile  ReconcileConfig  `koanf:"reconcile"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Log        LogConfig        `koanf:"log"`
}

type AppConfig struct {
	Environment     string        `koanf:"environment"`
	Port            int           `koanf:"port"`
	FrontendURL     string        `koanf:"frontend_url"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL          string `koanf:"url"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
}

type RedisConfig struct {
	URL      string        `koanf:"url"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type StripeConfig struct {
	SecretKey     string `koanf:"secret_key"`
	WebhookSecret string `koanf:"webhook_secret"`
	Currency      string `koanf:"currency"`
}

type JWTConfig struct {
	Secret      string        `koanf:"secret"`
	TokenExpire time.Duration `koanf:"token_expire"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Sender   string `koanf:"sender"`
}

type CloudinaryConfig struct {
	CloudName string `koanf:"cloud_name"`
	APIKey    string `koanf:"api_key"`
	APISecret string `koanf:"api_secret"`
}

type ReconcileConfig struct {
	Interval   time.Duration `koanf:"interval"`
	StaleAfter time.Duration `koanf:"stale_after"`
	BatchSize  int           `koanf:"batch_size"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

var (
	mu      sync.RWMutex
	current *Config
)

var defaults = map[string]any{
	"app.environment":      "development",
	"app.port":             8080,
	"app.frontend_url":     "http://localhost:3000",
	"app.allowed_origins":  []string{"http://localhost:3000"},
	"app.shutdown_timeout": "15s",

	"database.max_open_conns": 25,
	"database.max_idle_conns": 5,

	"redis.cache_ttl": "5m",

	"stripe.currency": "usd",

	"jwt.token_expire": "72h",

	"smtp.port":   587,
	"smtp.sender": "no-reply@fanrealms.dev",

	"reconcile.interval":    "10m",
	"reconcile.stale_after": "30m",
	"reconcile.batch_size":  50,

	"rate_limit.requests_per_second": 5.0,
	"rate_limit.burst":               20,

	"log.level": "info",
}

var envKeyMap = map[string]string{
	"APP_ENV":                 "app.environment",
	"PORT":                    "app.port",
	"FRONTEND_URL":            "app.frontend_url",
	"DB_URL":                  "database.url",
	"REDIS_URL":               "redis.url",
	"CACHE_TTL":               "redis.cache_ttl",
	"STRIPE_SECRET_KEY":       "stripe.secret_key",
	"STRIPE_WEBHOOK_SECRET":   "stripe.webhook_secret",
	"STRIPE_CURRENCY":         "stripe.currency",
	"JWT_SECRET":              "jwt.secret",
	"JWT_TOKEN_EXPIRE":        "jwt.token_expire",
	"SMTP_HOST":               "smtp.host",
	"SMTP_PORT":               "smtp.port",
	"SMTP_USERNAME":           "smtp.username",
	"SMTP_PASSWORD":           "smtp.password",
	"SMTP_SENDER":             "smtp.sender",
	"CLOUDINARY_CLOUD_NAME":   "cloudinary.cloud_name",
	"CLOUDINARY_API_KEY":      "cloudinary.api_key",
	"CLOUDINARY_API_SECRET":   "cloudinary.api_secret",
	"RECONCILE_INTERVAL":      "reconcile.interval",
	"RECONCILE_STALE_AFTER":   "reconcile.stale_after",
	"RECONCILE_BATCH_SIZE":    "reconcile.batch_size",
	"RATE_LIMIT_RPS":          "rate_limit.requests_per_second",
	"RATE_LIMIT_BURST":        "rate_limit.burst",
	"LOG_LEVEL":               "log.level",
	"LOG_FILE":                "log.file",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

// Load reads .env (when present), the optional YAML file and the process
// environment, in that order of increasing priority.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	Set(cfg)
	return cfg, nil
}

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("reconcile.interval must not be negative")
	}
	return nil
}

// Get returns the loaded configuration, or the defaults when Load has not
// run (tests).
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Defaults()
	}
	return current
}

// Set replaces the process-wide configuration.
func Set(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// Defaults returns a configuration holding only the built-in defaults.
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Environment:     "development",
			Port:            8080,
			FrontendURL:     "http://localhost:3000",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ShutdownTimeout: 15 * time.Second,
		},
		Database:  DatabaseConfig{MaxOpenConns: 25, MaxIdleConns: 5},
		Redis:     RedisConfig{CacheTTL: 5 * time.Minute},
		Stripe:    StripeConfig{Currency: "usd"},
		JWT:       JWTConfig{TokenExpire: 72 * time.Hour},
		SMTP:      SMTPConfig{Port: 587, Sender: "no-reply@fanrealms.dev"},
		Reconcile: ReconcileConfig{Interval: 10 * time.Minute, StaleAfter: 30 * time.Minute, BatchSize: 50},
		RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 20},
		Log:       LogConfig{Level: "info"},
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (a AppConfig) Address() string {
	return fmt.Sprintf(":%d", a.Port)
}

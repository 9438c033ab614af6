package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port               string   `envconfig:"PORT" default:"8080"`
	Env                string   `envconfig:"ENV" default:"production"`
	LogLevel           string   `envconfig:"LOG_LEVEL" default:"info"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`

	// Database
	PostgresDSN string `envconfig:"POSTGRES_DSN" required:"true"`

	// Cache and shared rate-limit counters. Optional: counters stay in-process when empty.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// Providers
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`

	// Observability
	OTELExporterType     string `envconfig:"OTEL_EXPORTER_TYPE" default:"stdout"` // "stdout", "otlp" or "none"
	OTELExporterEndpoint string `envconfig:"OTEL_EXPORTER_ENDPOINT" default:"localhost:4317"`

	// Rate Limiting
	DefaultRateLimitTPM int64  `envconfig:"DEFAULT_RATE_LIMIT_TPM" default:"0"` // tokens per minute, 0 disables the guard
	PlansFile           string `envconfig:"PLANS_FILE"`

	// Auth
	SessionSecret string `envconfig:"SESSION_SECRET" required:"true"`

	// Billing
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`

	// Side effects
	WorkerCount       int           `envconfig:"WORKER_COUNT" default:"4"`
	WorkerQueueSize   int           `envconfig:"WORKER_QUEUE_SIZE" default:"256"`
	SideEffectTimeout time.Duration `envconfig:"SIDE_EFFECT_TIMEOUT" default:"10s"`
	WebhookTimeout    time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"5s"`

	RunSeed bool `envconfig:"RUN_SEED" default:"false"`
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	switch c.OTELExporterType {
	case "stdout", "otlp", "none":
	default:
		return fmt.Errorf("invalid OTEL_EXPORTER_TYPE %q (want stdout, otlp or none)", c.OTELExporterType)
	}
	if c.DefaultRateLimitTPM < 0 {
		return fmt.Errorf("DEFAULT_RATE_LIMIT_TPM must not be negative")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}
	if c.WorkerQueueSize <= 0 {
		return fmt.Errorf("WORKER_QUEUE_SIZE must be positive")
	}
	if c.SideEffectTimeout <= 0 || c.WebhookTimeout <= 0 {
		return fmt.Errorf("SIDE_EFFECT_TIMEOUT and WEBHOOK_TIMEOUT must be positive")
	}
	return nil
}

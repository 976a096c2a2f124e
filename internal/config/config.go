package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// Provider credentials and endpoints.
	AdjeminBaseURL      string
	AdjeminClientID     string
	AdjeminClientSecret string
	ProviderTimeout     time.Duration
	TokenTTL            time.Duration
	TokenLeeway         time.Duration

	// Public base URL used to build the webhook and return URLs handed to
	// the provider.
	PublicBaseURL string
	CurrencyCode  string
	Designation   string

	// Reconciliation knobs.
	ReplayTTL   time.Duration
	LockTTL     time.Duration
	LockBackoff time.Duration
	SweepEvery  time.Duration
	SweepMinAge time.Duration
	SweepBatch  int

	// Checkout rate limiting.
	CheckoutRateWindow time.Duration
	CheckoutRateMax    int

	// Event publishing.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		AdjeminBaseURL:      valueOrDefault(k.String("ADJEMIN_BASE_URL"), "https://api.adjeminpay.com"),
		AdjeminClientID:     k.String("ADJEMIN_CLIENT_ID"),
		AdjeminClientSecret: k.String("ADJEMIN_CLIENT_SECRET"),
		ProviderTimeout:     parseDuration(k.String("ADJEMIN_TIMEOUT"), "8s"),
		TokenTTL:            parseDuration(k.String("ADJEMIN_TOKEN_TTL"), "5m"),
		TokenLeeway:         parseDuration(k.String("ADJEMIN_TOKEN_LEEWAY"), "30s"),

		PublicBaseURL: k.String("PUBLIC_BASE_URL"),
		CurrencyCode:  valueOrDefault(k.String("CHECKOUT_CURRENCY"), "XOF"),
		Designation:   valueOrDefault(k.String("CHECKOUT_DESIGNATION"), "Paiement en ligne"),

		ReplayTTL:   parseDuration(k.String("IPN_REPLAY_TTL"), "10m"),
		LockTTL:     parseDuration(k.String("ORDER_LOCK_TTL"), "30s"),
		LockBackoff: parseDuration(k.String("ORDER_LOCK_BACKOFF"), "50ms"),
		SweepEvery:  parseDuration(k.String("SWEEP_INTERVAL"), "5m"),
		SweepMinAge: parseDuration(k.String("SWEEP_MIN_AGE"), "30m"),
		SweepBatch:  intOrDefault(k.Int("SWEEP_BATCH"), 100),

		CheckoutRateWindow: parseDuration(k.String("CHECKOUT_RATE_WINDOW"), "1m"),
		CheckoutRateMax:    intOrDefault(k.Int("CHECKOUT_RATE_MAX"), 30),

		KafkaBrokers: splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:   valueOrDefault(k.String("KAFKA_TOPIC"), "payment-events"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AdjeminClientID == "" || cfg.AdjeminClientSecret == "" {
		return nil, errors.New("ADJEMIN_CLIENT_ID and ADJEMIN_CLIENT_SECRET are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// WebhookURL is the IPN endpoint handed to the provider on checkout creation.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/webhooks/adjeminpay"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"APP_ENV":               "",
		"PORT":                  "",
		"DATABASE_URL":          "postgres://localhost/bridge",
		"REDIS_URL":             "redis://localhost:6379/0",
		"ADJEMIN_CLIENT_ID":     "client",
		"ADJEMIN_CLIENT_SECRET": "secret",
		"PUBLIC_BASE_URL":       "https://shop.example.com",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "https://api.adjeminpay.com", cfg.AdjeminBaseURL)
	require.Equal(t, "XOF", cfg.CurrencyCode)
	require.Equal(t, 10*time.Minute, cfg.ReplayTTL)
	require.Equal(t, 30, cfg.CheckoutRateMax)
	require.Equal(t, "payment-events", cfg.KafkaTopic)
	require.Nil(t, cfg.KafkaBrokers)
}

func TestLoadRequiredVariables(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "ADJEMIN_CLIENT_ID", "PUBLIC_BASE_URL"} {
		env := baseEnv()
		env[key] = ""
		_, err := LoadForTests(env)
		require.Error(t, err, "missing %s must fail load", key)
	}
}

func TestWebhookURLStripsTrailingSlash(t *testing.T) {
	env := baseEnv()
	env["PUBLIC_BASE_URL"] = "https://shop.example.com/"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/webhooks/adjeminpay", cfg.WebhookURL())
}

func TestLoadParsesOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "9090"
	env["SWEEP_MIN_AGE"] = "1h"
	env["CHECKOUT_RATE_WINDOW"] = "bogus"
	env["KAFKA_BROKERS"] = "broker-1:9092, broker-2:9092 ,"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, time.Hour, cfg.SweepMinAge)
	require.Equal(t, time.Minute, cfg.CheckoutRateWindow, "bad durations fall back to the default")
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.CryptoKey = "base64keymaterial"
	cfg.DatabaseURL = "postgres://localhost/orchestrator"
	cfg.PlanningAPIBaseURL = "https://planning.example.com/v1"
	cfg.PlanningAPIToken = "token-value"
	return cfg
}

func TestValidate_RejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing crypto key", func(c *Config) { c.CryptoKey = "" }},
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"missing planning api base url", func(c *Config) { c.PlanningAPIBaseURL = "" }},
		{"missing planning token", func(c *Config) { c.PlanningAPIToken = "" }},
		{"zero max concurrent video", func(c *Config) { c.MaxConcurrentVideo = 0 }},
		{"tz offset too low", func(c *Config) { c.QuotaTimezoneOffset = -13 }},
		{"tz offset too high", func(c *Config) { c.QuotaTimezoneOffset = 15 }},
		{"sync interval too small", func(c *Config) { c.SyncInterval = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfig_HasSaneValues(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, 60*time.Second, cfg.SyncInterval)
	assert.Equal(t, 3, cfg.MaxConcurrentVideo)
	assert.Equal(t, -8, cfg.QuotaTimezoneOffset)
}

func TestEnvTransform_MapsKnownKeys(t *testing.T) {
	assert.Equal(t, "database_url", envTransform("DB_URL"))
	assert.Equal(t, "crypto_key", envTransform("CRYPTO_KEY"))
	assert.Equal(t, "max_concurrent_video", envTransform("MAX_CONCURRENT_VIDEO"))
}

func TestEnvTransform_IgnoresUnknownKeys(t *testing.T) {
	assert.Equal(t, "", envTransform("SOME_RANDOM_VAR"))
}


// Package config loads process-wide configuration with Koanf v2's layered
// sources: built-in defaults, an optional YAML file, then environment
// variables (highest precedence). This mirrors the loading order used
// throughout the codebase's other config-bearing packages (internal/registry
// layers the same way for per-channel settings).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every process-wide setting (§6). Per-channel settings live
// in internal/registry, not here.
type Config struct {
	CryptoKey          string        `koanf:"crypto_key"`
	DatabaseURL        string        `koanf:"database_url"`
	PlanningAPIBaseURL string        `koanf:"planning_api_base_url"`
	PlanningAPIToken   string        `koanf:"planning_api_token"`
	PlanningDatabaseIDs []string     `koanf:"planning_database_ids"`
	SyncInterval       time.Duration `koanf:"sync_interval_seconds"`
	MaxConcurrentVideo int           `koanf:"max_concurrent_video"`
	AlertWebhookURL    string        `koanf:"alert_webhook_url"`
	QuotaTimezoneOffset int          `koanf:"quota_timezone_offset"`
	ChannelsConfigPath string        `koanf:"channels_config_path"`
	WorkspaceRoot      string        `koanf:"workspace_root"`
	ToolsDir           string        `koanf:"tools_dir"`
	WorkerCount        int           `koanf:"worker_count"`
	HTTPPort           int           `koanf:"http_port"`
	HTTPHost           string        `koanf:"http_host"`
	LogLevel           string        `koanf:"log_level"`
	LogFormat          string        `koanf:"log_format"`
	WebhookPort        int           `koanf:"webhook_port"`
	WebhookSecret      string        `koanf:"webhook_secret"`
}

func defaultConfig() *Config {
	return &Config{
		SyncInterval:        60 * time.Second,
		MaxConcurrentVideo:  3,
		QuotaTimezoneOffset: -8, // PST
		ChannelsConfigPath:  "channels.yaml",
		WorkspaceRoot:       "./workspace",
		ToolsDir:            "./tools",
		WorkerCount:         3,
		HTTPPort:            8080,
		HTTPHost:            "0.0.0.0",
		LogLevel:            "info",
		LogFormat:           "json",
		WebhookPort:         8081,
	}
}

// ConfigPathEnvVar names the environment variable that overrides the
// default search path for the process config file.
const ConfigPathEnvVar = "CONFIG_PATH"

var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/orchestrator/config.yaml",
}

// Load builds a Config from defaults, an optional config file, and
// environment variables, in that order of increasing precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load config env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"crypto_key":            "crypto_key",
	"db_url":                "database_url",
	"planning_api_base_url": "planning_api_base_url",
	"planning_api_token":    "planning_api_token",
	"planning_database_ids": "planning_database_ids",
	"sync_interval_seconds": "sync_interval_seconds",
	"max_concurrent_video":  "max_concurrent_video",
	"alert_webhook_url":     "alert_webhook_url",
	"quota_timezone_offset": "quota_timezone_offset",
	"channels_config_path":  "channels_config_path",
	"workspace_root":        "workspace_root",
	"tools_dir":             "tools_dir",
	"worker_count":          "worker_count",
	"http_port":             "http_port",
	"http_host":             "http_host",
	"log_level":             "log_level",
	"log_format":            "log_format",
	"webhook_port":          "webhook_port",
	"webhook_secret":        "webhook_secret",
}

func envTransform(key string) string {
	if mapped, ok := envMappings[toLower(key)]; ok {
		return mapped
	}
	return ""
}

func toLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Validate checks required fields and value ranges. Called by Load; exposed
// separately so callers building a Config programmatically (e.g. tests) can
// validate without going through environment loading.
func (c *Config) Validate() error {
	if c.CryptoKey == "" {
		return fmt.Errorf("config: CRYPTO_KEY is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DB_URL is required")
	}
	if c.PlanningAPIBaseURL == "" {
		return fmt.Errorf("config: PLANNING_API_BASE_URL is required")
	}
	if c.PlanningAPIToken == "" {
		return fmt.Errorf("config: PLANNING_API_TOKEN is required")
	}
	if c.MaxConcurrentVideo < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_VIDEO must be >= 1")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("config: WORKER_COUNT must be >= 1")
	}
	if c.QuotaTimezoneOffset < -12 || c.QuotaTimezoneOffset > 14 {
		return fmt.Errorf("config: QUOTA_TIMEZONE_OFFSET must be between -12 and 14")
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("config: SYNC_INTERVAL_SECONDS must be >= 1")
	}
	return nil
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It captures the HTTP surface, storage, webhook verification, the tenant
// decryption key, and the refresh-trigger policy.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Storage  StorageConfig  `yaml:"storage"`
	Security SecurityConfig `yaml:"security"`
	Registry RegistryConfig `yaml:"registry"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

type ServerConfig struct {
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`
}

type WebhookConfig struct {
	// Token the platform echoes back during the GET verification handshake.
	// If empty, read from env VERIFY_TOKEN.
	VerifyToken string `yaml:"verifyToken"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite or a connection string for postgres.
	// If empty, read from env DATABASE_URL.
	DSN string `yaml:"dsn"`
}

type SecurityConfig struct {
	// Base64 32-byte key used to decrypt stored page tokens.
	// If empty, read from env ENCRYPTION_KEY.
	EncryptionKey string `yaml:"encryptionKey"`
}

type RegistryConfig struct {
	// Cron spec for periodic tenant reloads; empty disables the schedule.
	ReloadSchedule string `yaml:"reloadSchedule"`
}

type RefreshConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CooldownMinutes int    `yaml:"cooldownMinutes"`
	Command         string `yaml:"command"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds"`
}

type AlertsConfig struct {
	// Incoming-webhook URL for operational alerts. If empty, read from
	// env ALERT_WEBHOOK_URL; alerts are disabled when unset.
	WebhookURL string `yaml:"webhookURL"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Webhook:  WebhookConfig{VerifyToken: ""},
		Storage:  StorageConfig{Driver: "sqlite", DSN: "./pagepulse.db"},
		Security: SecurityConfig{EncryptionKey: ""},
		Registry: RegistryConfig{ReloadSchedule: "@every 10m"},
		Refresh:  RefreshConfig{Enabled: true, CooldownMinutes: 5, Command: "insights-sync", TimeoutSeconds: 120},
		Alerts:   AlertsConfig{WebhookURL: ""},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Webhook.VerifyToken == "" {
		c.Webhook.VerifyToken = os.Getenv("VERIFY_TOKEN")
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = os.Getenv("DATABASE_URL")
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if c.Security.EncryptionKey == "" {
		c.Security.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	}
	if c.Alerts.WebhookURL == "" {
		c.Alerts.WebhookURL = os.Getenv("ALERT_WEBHOOK_URL")
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("REFRESH_ENABLED"); v != "" {
		c.Refresh.Enabled = v == "1" || v == "true"
	}
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

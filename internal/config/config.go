package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Sources  SourcesConfig  `yaml:"sources"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SourcesConfig holds configuration for all price sources.
type SourcesConfig struct {
	Steam  SteamConfig  `yaml:"steam"`
	ITAD   ITADConfig   `yaml:"itad"`
	Loaded LoadedConfig `yaml:"loaded"`
}

// SteamConfig for the Steam wishlist source. The wishlist is the entry
// point of every sync, so there is no enabled flag.
type SteamConfig struct {
	SteamID string `yaml:"steam_id"`
	APIKey  string `yaml:"api_key"`
}

// ITADConfig for the IsThereAnyDeal price-comparison source.
type ITADConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Country string `yaml:"country"`
}

// LoadedConfig for the Loaded.com retailer scraper.
type LoadedConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MinDelay       string `yaml:"min_delay"`
	SearchFallback bool   `yaml:"search_fallback"`
}

// ParseMinDelay returns the scrape delay as time.Duration.
func (l LoadedConfig) ParseMinDelay() time.Duration {
	d, err := time.ParseDuration(l.MinDelay)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// AlertsConfig configures historic-low alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./dealwatch.db"},
		Sources: SourcesConfig{
			ITAD: ITADConfig{
				Enabled: true,
				Country: "GB",
			},
			Loaded: LoadedConfig{
				Enabled:        true,
				MinDelay:       "2s",
				SearchFallback: true,
			},
		},
		Alerts:  AlertsConfig{},
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEALWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STEAM_ID"); v != "" {
		cfg.Sources.Steam.SteamID = v
	}
	if v := os.Getenv("STEAM_API_KEY"); v != "" {
		cfg.Sources.Steam.APIKey = v
	}
	if v := os.Getenv("ITAD_API_KEY"); v != "" {
		cfg.Sources.ITAD.APIKey = v
		cfg.Sources.ITAD.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("DEALWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

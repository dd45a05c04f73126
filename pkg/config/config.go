// Package config loads the backend configuration from a JSON file with
// environment variable overrides. A missing file is not an error; it yields
// the defaults, which is enough to run the CLI channel against a local
// SQLite store.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers, so
// allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Session       SessionConfig       `json:"session"`
	Channels      ChannelsConfig      `json:"channels"`
	LLM           LLMConfig           `json:"llm"`
	Store         StoreConfig         `json:"store"`
	Notifications NotificationsConfig `json:"notifications"`
	Logging       LoggingConfig       `json:"logging"`
}

type SessionConfig struct {
	MaxTurnsInCache int `env:"LUNA_SESSION_MAX_TURNS_IN_CACHE" json:"max_turns_in_cache"`
	MaxCacheSize    int `env:"LUNA_SESSION_MAX_CACHE_SIZE"     json:"max_cache_size"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Discord  DiscordConfig  `json:"discord"`
	Web      WebConfig      `json:"web"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool                `env:"LUNA_CHANNELS_TELEGRAM_ENABLED"    json:"enabled"`
	Token     string              `env:"LUNA_CHANNELS_TELEGRAM_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"LUNA_CHANNELS_TELEGRAM_ALLOW_FROM" json:"allow_from"`
}

type WhatsAppConfig struct {
	Enabled       bool                `env:"LUNA_CHANNELS_WHATSAPP_ENABLED"         json:"enabled"`
	AccessToken   string              `env:"LUNA_CHANNELS_WHATSAPP_ACCESS_TOKEN"    json:"access_token"`
	PhoneNumberID string              `env:"LUNA_CHANNELS_WHATSAPP_PHONE_NUMBER_ID" json:"phone_number_id"`
	VerifyToken   string              `env:"LUNA_CHANNELS_WHATSAPP_VERIFY_TOKEN"    json:"verify_token"`
	ListenAddr    string              `env:"LUNA_CHANNELS_WHATSAPP_LISTEN_ADDR"     json:"listen_addr"`
	WebhookPath   string              `env:"LUNA_CHANNELS_WHATSAPP_WEBHOOK_PATH"    json:"webhook_path"`
	AllowFrom     FlexibleStringSlice `env:"LUNA_CHANNELS_WHATSAPP_ALLOW_FROM"      json:"allow_from"`
}

type DiscordConfig struct {
	Enabled   bool                `env:"LUNA_CHANNELS_DISCORD_ENABLED"    json:"enabled"`
	Token     string              `env:"LUNA_CHANNELS_DISCORD_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"LUNA_CHANNELS_DISCORD_ALLOW_FROM" json:"allow_from"`
}

type WebConfig struct {
	Enabled    bool   `env:"LUNA_CHANNELS_WEB_ENABLED"     json:"enabled"`
	ListenAddr string `env:"LUNA_CHANNELS_WEB_LISTEN_ADDR" json:"listen_addr"`
}

type CLIConfig struct {
	Enabled bool `env:"LUNA_CHANNELS_CLI_ENABLED" json:"enabled"`
}

// LLMConfig selects the classifier provider and its credentials.
type LLMConfig struct {
	Provider  string         `env:"LUNA_LLM_PROVIDER" json:"provider"` // "anthropic" | "openai"
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model,omitempty"`
}

type StoreConfig struct {
	Path string `env:"LUNA_STORE_PATH" json:"path"`
}

type NotificationsConfig struct {
	Enabled         bool   `env:"LUNA_NOTIFICATIONS_ENABLED"          json:"enabled"`
	CleanupSchedule string `env:"LUNA_NOTIFICATIONS_CLEANUP_SCHEDULE" json:"cleanup_schedule"`
	RetentionDays   int    `env:"LUNA_NOTIFICATIONS_RETENTION_DAYS"   json:"retention_days"`
}

type LoggingConfig struct {
	Level string `env:"LUNA_LOG_LEVEL" json:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			MaxTurnsInCache: 20,
			MaxCacheSize:    10000,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				ListenAddr:  ":8081",
				WebhookPath: "/webhook/whatsapp",
			},
			Web: WebConfig{ListenAddr: ":8080"},
			CLI: CLIConfig{Enabled: true},
		},
		LLM: LLMConfig{Provider: "anthropic"},
		Store: StoreConfig{
			Path: "~/.luna/luna.db",
		},
		Notifications: NotificationsConfig{
			Enabled:         true,
			CleanupSchedule: "0 3 * * *",
			RetentionDays:   90,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads path, falling back to defaults when the file does not
// exist, then applies LUNA_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// StorePath returns the store path with ~ expanded.
func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

// ClassifierCredentials returns the API key and model for the selected
// provider.
func (c *Config) ClassifierCredentials() (apiKey, model string) {
	switch c.LLM.Provider {
	case "openai":
		return c.LLM.OpenAI.APIKey, c.LLM.OpenAI.Model
	default:
		return c.LLM.Anthropic.APIKey, c.LLM.Anthropic.Model
	}
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

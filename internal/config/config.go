// Package config loads DirectLine settings from a JSON/YAML file, a remote
// config endpoint or DIRECTLINE_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	"github.com/directline-io/directline/internal/intake"
	"github.com/directline-io/directline/pkg/protocol"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "DIRECTLINE_"

// Config is the top-level DirectLine configuration.
type Config struct {
	Service    ServiceConfig    `json:"service" yaml:"service" envPrefix:"SERVICE_"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier" envPrefix:"CLASSIFIER_"`
	Replies    RepliesConfig    `json:"replies" yaml:"replies" envPrefix:"REPLIES_"`
	API        APIConfig        `json:"api" yaml:"api" envPrefix:"API_"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify" envPrefix:"NOTIFY_"`
	Events     EventsConfig     `json:"events" yaml:"events" envPrefix:"EVENTS_"`
	Redis      RedisConfig      `json:"redis" yaml:"redis" envPrefix:"REDIS_"`
	Intake     IntakeConfig     `json:"intake" yaml:"intake"`
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	ID                  string `json:"id" yaml:"id" env:"ID"`
	Database            string `json:"database" yaml:"database" env:"DATABASE"` // empty: in-memory
	MaxConcurrent       int    `json:"max_concurrent" yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	DedupeWindowSeconds int    `json:"dedupe_window_seconds" yaml:"dedupe_window_seconds" env:"DEDUPE_WINDOW_SECONDS"`
	DemoData            bool   `json:"demo_data" yaml:"demo_data" env:"DEMO_DATA"`
}

// ClassifierConfig selects the consultation classifier.
type ClassifierConfig struct {
	Type           string `json:"type" yaml:"type" env:"TYPE"` // "rules", "openai" or "anthropic"
	APIKey         string `json:"api_key" yaml:"api_key" env:"API_KEY"`
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty" env:"BASE_URL"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

// RepliesConfig controls the simulated replies used in demos.
type RepliesConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled" env:"ENABLED"`
	AgentDelayMS  int  `json:"agent_delay_ms" yaml:"agent_delay_ms" env:"AGENT_DELAY_MS"`
	ClientDelayMS int  `json:"client_delay_ms" yaml:"client_delay_ms" env:"CLIENT_DELAY_MS"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host          string `json:"host" yaml:"host" env:"HOST"`
	Port          int    `json:"port" yaml:"port" env:"PORT"`
	TokenSecret   string `json:"token_secret" yaml:"token_secret" env:"TOKEN_SECRET"`
	TokenTTLHours int    `json:"token_ttl_hours" yaml:"token_ttl_hours" env:"TOKEN_TTL_HOURS"`
}

// NotifyConfig holds staff notification settings. Empty tokens disable a channel.
type NotifyConfig struct {
	Slack                  SlackConfig    `json:"slack" yaml:"slack" envPrefix:"SLACK_"`
	Telegram               TelegramConfig `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
	DigestSchedule         string         `json:"digest_schedule,omitempty" yaml:"digest_schedule,omitempty" env:"DIGEST_SCHEDULE"`
	DigestThresholdMinutes int            `json:"digest_threshold_minutes" yaml:"digest_threshold_minutes" env:"DIGEST_THRESHOLD_MINUTES"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token" env:"BOT_TOKEN"`
	Channel  string `json:"channel" yaml:"channel" env:"CHANNEL"`
	APIURL   string `json:"api_url,omitempty" yaml:"api_url,omitempty" env:"API_URL"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token    string  `json:"token" yaml:"token" env:"TOKEN"`
	ChatIDs  []int64 `json:"chat_ids,omitempty" yaml:"chat_ids,omitempty" env:"CHAT_IDS"`
	Endpoint string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty" env:"ENDPOINT"`
}

// EventsConfig holds the AMQP event publisher settings. An empty URL logs
// events instead of publishing them.
type EventsConfig struct {
	AMQPURL  string `json:"amqp_url,omitempty" yaml:"amqp_url,omitempty" env:"AMQP_URL"`
	Exchange string `json:"exchange" yaml:"exchange" env:"EXCHANGE"`
}

// RedisConfig holds the duplicate guard backend. An empty Addr keeps the
// guard in process.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty" env:"ADDR"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" env:"PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"DB"`
}

// IntakeConfig lists webhook intake sources. File and remote modes only.
type IntakeConfig struct {
	Sources map[string]intake.SourceConfig `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Default returns a config with every default filled in.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			ID:                  "directline",
			MaxConcurrent:       3,
			DedupeWindowSeconds: 10,
		},
		Classifier: ClassifierConfig{Type: "rules", TimeoutSeconds: 20},
		Replies:    RepliesConfig{AgentDelayMS: 2500, ClientDelayMS: 2000},
		API:        APIConfig{Host: "0.0.0.0", Port: 8080, TokenTTLHours: 24},
		Notify:     NotifyConfig{DigestThresholdMinutes: 15},
		Events:     EventsConfig{Exchange: "directline.events"},
	}
}

// Load reads configuration from a JSON or YAML file, chosen by extension.
// Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := parse(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds the config from DIRECTLINE_* environment variables,
// e.g. DIRECTLINE_API_PORT or DIRECTLINE_NOTIFY_SLACK_BOT_TOKEN.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parse(data []byte, yamlFormat bool) (*Config, error) {
	cfg := Default()
	var err error
	if yamlFormat {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Validate checks the config and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}
	if c.Service.MaxConcurrent < 1 {
		errs = append(errs, "service.max_concurrent must be at least 1")
	}
	if c.Service.DedupeWindowSeconds < 0 {
		errs = append(errs, "service.dedupe_window_seconds must not be negative")
	}

	switch c.Classifier.Type {
	case "rules":
	case "openai", "anthropic":
		if c.Classifier.APIKey == "" {
			errs = append(errs, fmt.Sprintf("classifier.api_key is required for %s", c.Classifier.Type))
		}
	default:
		errs = append(errs, fmt.Sprintf("classifier.type %q is not one of rules, openai, anthropic", c.Classifier.Type))
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		errs = append(errs, "classifier.timeout_seconds must be positive")
	}

	if c.Replies.AgentDelayMS < 0 || c.Replies.ClientDelayMS < 0 {
		errs = append(errs, "replies delays must not be negative")
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}
	if c.API.TokenSecret == "" {
		errs = append(errs, "api.token_secret is required")
	}

	if c.Notify.Slack.BotToken != "" && c.Notify.Slack.Channel == "" {
		errs = append(errs, "notify.slack.channel is required with a bot token")
	}
	if c.Notify.Telegram.Token != "" && len(c.Notify.Telegram.ChatIDs) == 0 {
		errs = append(errs, "notify.telegram.chat_ids is required with a token")
	}
	if c.Notify.DigestSchedule != "" {
		if _, err := cron.ParseStandard(c.Notify.DigestSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("notify.digest_schedule: %v", err))
		}
		if c.Notify.DigestThresholdMinutes <= 0 {
			errs = append(errs, "notify.digest_threshold_minutes must be positive")
		}
	}

	for name, src := range c.Intake.Sources {
		if src.Category != "" {
			if _, err := protocol.ParseCategory(src.Category); err != nil {
				errs = append(errs, fmt.Sprintf("intake.sources.%s.category: %v", name, err))
			}
		}
	}

	if c.Events.AMQPURL != "" && c.Events.Exchange == "" {
		errs = append(errs, "events.exchange is required with an amqp_url")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.Service.DedupeWindowSeconds) * time.Second
}

func (c *Config) ClassifyTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

func (c *Config) AgentReplyDelay() time.Duration {
	return time.Duration(c.Replies.AgentDelayMS) * time.Millisecond
}

func (c *Config) ClientReplyDelay() time.Duration {
	return time.Duration(c.Replies.ClientDelayMS) * time.Millisecond
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.API.TokenTTLHours) * time.Hour
}

func (c *Config) DigestThreshold() time.Duration {
	return time.Duration(c.Notify.DigestThresholdMinutes) * time.Minute
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration. It is built once at startup and passed
// to every component.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Queue        QueueConfig        `yaml:"queue"`
	Notification NotificationConfig `yaml:"notification"`
	Platform     PlatformConfig     `yaml:"platform"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path" split_words:"true"`
}

// ScheduleConfig configures the worker loop cadence.
type ScheduleConfig struct {
	PollInterval  string `yaml:"poll_interval" split_words:"true"`
	CheckInterval string `yaml:"check_interval" split_words:"true"`
	ChannelPause  string `yaml:"channel_pause" split_words:"true"`
	JoinPause     string `yaml:"join_pause" split_words:"true"`
}

// ParsePollInterval returns how often the loop wakes to look for commands.
func (s ScheduleConfig) ParsePollInterval() time.Duration {
	return parseDuration(s.PollInterval, 10*time.Second)
}

// ParseCheckInterval returns the periodic full-cycle interval.
func (s ScheduleConfig) ParseCheckInterval() time.Duration {
	return parseDuration(s.CheckInterval, 30*time.Minute)
}

// ParseChannelPause returns the pause between two sampled channels.
func (s ScheduleConfig) ParseChannelPause() time.Duration {
	return parseDuration(s.ChannelPause, 2*time.Second)
}

// ParseJoinPause returns the pause between two join attempts.
func (s ScheduleConfig) ParseJoinPause() time.Duration {
	return parseDuration(s.JoinPause, time.Second)
}

// QueueConfig configures the shared command marker directory.
type QueueConfig struct {
	Dir   string `yaml:"dir" split_words:"true"`
	Watch bool   `yaml:"watch" split_words:"true"`
}

// LockPath is the worker lock file inside the queue directory.
func (q QueueConfig) LockPath() string {
	return filepath.Join(q.Dir, "worker.lock")
}

// NotificationConfig configures the completion record location.
type NotificationConfig struct {
	Path string `yaml:"path" split_words:"true"`
}

// PlatformConfig selects and configures the platform adapter.
type PlatformConfig struct {
	Driver     string `yaml:"driver" split_words:"true"` // "botapi" or "preview"
	BotToken   string `yaml:"bot_token" split_words:"true"`
	PreviewURL string `yaml:"preview_url" split_words:"true"`
	Timeout    string `yaml:"timeout" split_words:"true"`
}

// ParseTimeout returns the per-request platform timeout.
func (p PlatformConfig) ParseTimeout() time.Duration {
	return parseDuration(p.Timeout, 15*time.Second)
}

// AlertsConfig configures cycle summary destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled" split_words:"true"`
	WebhookURL string `yaml:"webhook_url" split_words:"true"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled" split_words:"true"`
	WebhookURL string `yaml:"webhook_url" split_words:"true"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	URL     string `yaml:"url" split_words:"true"`
	Secret  string `yaml:"secret" split_words:"true"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled bool `yaml:"enabled" split_words:"true"`
	Port    int  `yaml:"port" split_words:"true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./chanwatch.db"},
		Schedule: ScheduleConfig{
			PollInterval:  "10s",
			CheckInterval: "30m",
			ChannelPause:  "2s",
			JoinPause:     "1s",
		},
		Queue:        QueueConfig{Dir: "./data", Watch: true},
		Notification: NotificationConfig{Path: "./check_notification.json"},
		Platform: PlatformConfig{
			Driver:     "botapi",
			PreviewURL: "https://t.me",
			Timeout:    "15s",
		},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "console"},
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with CHANWATCH_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{"CHANWATCH_DATABASE", &cfg.Database},
		{"CHANWATCH_SCHEDULE", &cfg.Schedule},
		{"CHANWATCH_QUEUE", &cfg.Queue},
		{"CHANWATCH_NOTIFICATION", &cfg.Notification},
		{"CHANWATCH_PLATFORM", &cfg.Platform},
		{"CHANWATCH_SLACK", &cfg.Alerts.Slack},
		{"CHANWATCH_DISCORD", &cfg.Alerts.Discord},
		{"CHANWATCH_WEBHOOK", &cfg.Alerts.Webhook},
		{"CHANWATCH_SERVER", &cfg.Server},
		{"CHANWATCH_LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("env overrides %s: %w", g.prefix, err)
		}
	}

	// A webhook URL from the environment switches its notifier on.
	if os.Getenv("CHANWATCH_SLACK_WEBHOOK_URL") != "" {
		cfg.Alerts.Slack.Enabled = true
	}
	if os.Getenv("CHANWATCH_DISCORD_WEBHOOK_URL") != "" {
		cfg.Alerts.Discord.Enabled = true
	}
	if os.Getenv("CHANWATCH_WEBHOOK_URL") != "" {
		cfg.Alerts.Webhook.Enabled = true
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

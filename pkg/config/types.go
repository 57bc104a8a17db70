package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/launchpad-dev/launchpad-cli/pkg/resilience"
)

// EnvPrefix prefixes every environment variable the CLI reads
const EnvPrefix = "LAUNCHPAD"

// Config is the resolved CLI configuration
type Config struct {
	APIURL         string        `mapstructure:"api_url"`
	Token          string        `mapstructure:"token"`
	LogLevel       string        `mapstructure:"log_level"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TLSInsecure    bool          `mapstructure:"tls_insecure"`
	NoColor        bool          `mapstructure:"no_color"`

	Stream        StreamConfig       `mapstructure:"stream"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// StreamConfig controls log stream reconnects
type StreamConfig struct {
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
	// Disabled follows deployments by polling only
	Disabled bool `mapstructure:"disabled"`
}

// NotificationConfig lists webhooks notified when a followed deployment finishes
type NotificationConfig struct {
	SlackWebhook   string `mapstructure:"slack_webhook"`
	DiscordWebhook string `mapstructure:"discord_webhook"`
	Webhook        string `mapstructure:"webhook"`
}

// Enabled reports whether any webhook is configured
func (n NotificationConfig) Enabled() bool {
	return n.SlackWebhook != "" || n.DiscordWebhook != "" || n.Webhook != ""
}

// ReconnectPolicy converts the stream settings into a backoff policy
func (s StreamConfig) ReconnectPolicy() resilience.ReconnectPolicy {
	p := resilience.DefaultReconnectPolicy()
	p.BaseDelay = s.ReconnectDelay
	p.MaxDelay = s.MaxReconnectDelay
	p.MaxAttempts = s.MaxReconnects
	return p
}

// SetDefaults registers every key with its default so environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("token", "")
	v.SetDefault("log_level", "warn")
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("tls_insecure", false)
	v.SetDefault("no_color", false)
	v.SetDefault("stream.reconnect_delay", time.Second)
	v.SetDefault("stream.max_reconnect_delay", 30*time.Second)
	v.SetDefault("stream.max_reconnects", 5)
	v.SetDefault("stream.disabled", false)
	v.SetDefault("notifications.slack_webhook", "")
	v.SetDefault("notifications.discord_webhook", "")
	v.SetDefault("notifications.webhook", "")
}

// BindEnv makes LAUNCHPAD_STREAM_MAX_RECONNECTS and friends map onto nested keys
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/launchpad-dev/launchpad-cli/internal/logging"
)

const (
	minPollInterval = 500 * time.Millisecond
	maxPollInterval = time.Minute
)

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config) error {
	if err := validateURL("api_url", cfg.APIURL, true); err != nil {
		return err
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if cfg.PollInterval < minPollInterval || cfg.PollInterval > maxPollInterval {
		return fmt.Errorf("poll_interval must be between %s and %s, got %s", minPollInterval, maxPollInterval, cfg.PollInterval)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", cfg.RequestTimeout)
	}

	if err := validateStream(&cfg.Stream); err != nil {
		return err
	}

	n := cfg.Notifications
	for key, value := range map[string]string{
		"notifications.slack_webhook":   n.SlackWebhook,
		"notifications.discord_webhook": n.DiscordWebhook,
		"notifications.webhook":         n.Webhook,
	} {
		if err := validateURL(key, value, false); err != nil {
			return err
		}
	}

	return nil
}

func validateStream(s *StreamConfig) error {
	if s.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be positive, got %s", s.ReconnectDelay)
	}
	if s.MaxReconnectDelay < s.ReconnectDelay {
		return fmt.Errorf("stream.max_reconnect_delay (%s) must not be below stream.reconnect_delay (%s)", s.MaxReconnectDelay, s.ReconnectDelay)
	}
	if s.MaxReconnects < 0 {
		return fmt.Errorf("stream.max_reconnects must not be negative, got %d", s.MaxReconnects)
	}
	return nil
}

func validateURL(key, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s is required", key)
		}
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", key, value)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", key, value)
	}
	return nil
}

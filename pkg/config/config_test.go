package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "http://localhost:8000" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.PollInterval != 2*time.Second || cfg.RequestTimeout != 30*time.Second {
		t.Errorf("intervals = %s, %s", cfg.PollInterval, cfg.RequestTimeout)
	}
	p := cfg.Stream.ReconnectPolicy()
	if p.BaseDelay != time.Second || p.MaxDelay != 30*time.Second || p.MaxAttempts != 5 {
		t.Errorf("ReconnectPolicy() = %+v", p)
	}
	if cfg.Notifications.Enabled() {
		t.Error("notifications enabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LAUNCHPAD_API_URL", "https://api.example.com/")
	t.Setenv("LAUNCHPAD_STREAM_MAX_RECONNECTS", "9")
	t.Setenv("LAUNCHPAD_POLL_INTERVAL", "3s")
	t.Setenv("LAUNCHPAD_TOKEN", " tok ")

	cfg, err := Load(newViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "https://api.example.com" {
		t.Errorf("APIURL = %q, want trailing slash trimmed", cfg.APIURL)
	}
	if cfg.Stream.MaxReconnects != 9 || cfg.PollInterval != 3*time.Second || cfg.Token != "tok" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launchpad.yaml")
	content := `api_url: https://deploy.internal
stream:
  reconnect_delay: 500ms
  max_reconnect_delay: 10s
notifications:
  slack_webhook: https://hooks.slack.com/services/x
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Stream.ReconnectDelay != 500*time.Millisecond || cfg.Stream.MaxReconnects != 5 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if !cfg.Notifications.Enabled() {
		t.Error("slack webhook not loaded")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg, err := Load(newViper())
		if err != nil {
			t.Fatal(err)
		}
		return *cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing api url", func(c *Config) { c.APIURL = "" }, "api_url is required"},
		{"bad scheme", func(c *Config) { c.APIURL = "ftp://x" }, "http or https"},
		{"no host", func(c *Config) { c.APIURL = "http://" }, "no host"},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
		{"poll too fast", func(c *Config) { c.PollInterval = 10 * time.Millisecond }, "poll_interval"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "request_timeout"},
		{"max below base", func(c *Config) { c.Stream.MaxReconnectDelay = time.Millisecond }, "max_reconnect_delay"},
		{"negative reconnects", func(c *Config) { c.Stream.MaxReconnects = -1 }, "max_reconnects"},
		{"bad webhook", func(c *Config) { c.Notifications.Webhook = "not a url" }, "notifications.webhook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := ValidateConfig(&cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if got := cfg.Listen(); got != "127.0.0.1:8080" {
		t.Errorf("listen = %q, want 127.0.0.1:8080", got)
	}
	if got := cfg.DriverTimeout(); got != 2*time.Second {
		t.Errorf("driver timeout = %v, want 2s", got)
	}
	if !cfg.ScanOnStart() {
		t.Error("scan_on_start should default to true")
	}
	if cfg.MQTT.TopicPrefix != "ratbag" {
		t.Errorf("topic prefix = %q", cfg.MQTT.TopicPrefix)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
web:
  host: 0.0.0.0
  port: 9000
  api_key: secret
store:
  path: /var/lib/ratbagd/state.db
devices:
  db_dir: /usr/share/ratbagd/devices
  scan_on_start: false
  driver_timeout: 500ms
mqtt:
  enabled: true
  broker: tcp://localhost:1883
automation:
  enabled: true
  scripts_dir: /etc/ratbagd/scripts
log:
  level: debug
  format: json
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if got := cfg.Listen(); got != "0.0.0.0:9000" {
		t.Errorf("listen = %q", got)
	}
	if cfg.ScanOnStart() {
		t.Error("scan_on_start = true, want false")
	}
	if got := cfg.DriverTimeout(); got != 500*time.Millisecond {
		t.Errorf("driver timeout = %v", got)
	}
	if cfg.Store.Path != "/var/lib/ratbagd/state.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if !cfg.Automation.Enabled || cfg.Automation.ScriptsDir != "/etc/ratbagd/scripts" {
		t.Errorf("automation = %+v", cfg.Automation)
	}
}

func TestLoadConfigParseError(t *testing.T) {
	if _, err := loadConfig(writeConfig(t, "web: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Web.Port = 70000 }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
		{"timeout", func(c *Config) { c.Devices.DriverTimeout = "soon" }},
		{"negative timeout", func(c *Config) { c.Devices.DriverTimeout = "-1s" }},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.applyDefaults()
			tt.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWebOptions(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if n := len(webOptions(&cfg, nil)); n != 1 {
		t.Errorf("defaults: %d options, want 1", n)
	}

	cfg.Web.APIKey = "secret"
	cfg.Web.AllowedOrigins = []string{"http://localhost:3000"}
	if n := len(webOptions(&cfg, nil)); n != 3 {
		t.Errorf("with key and origins: %d options, want 3", n)
	}
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web struct {
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Devices struct {
		DBDir         string `yaml:"db_dir"`
		ScanOnStart   *bool  `yaml:"scan_on_start"`
		DriverTimeout string `yaml:"driver_timeout"`
	} `yaml:"devices"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Automation struct {
		Enabled    bool   `yaml:"enabled"`
		ScriptsDir string `yaml:"scripts_dir"`
	} `yaml:"automation"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 1-65535, got %d", c.Web.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if d, err := time.ParseDuration(c.Devices.DriverTimeout); err != nil || d <= 0 {
		return fmt.Errorf("devices.driver_timeout must be a positive duration, got %q", c.Devices.DriverTimeout)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// Listen returns the web listen address.
func (c *Config) Listen() string {
	return net.JoinHostPort(c.Web.Host, strconv.Itoa(c.Web.Port))
}

// DriverTimeout returns the parsed devices.driver_timeout. Call after validate.
func (c *Config) DriverTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Devices.DriverTimeout)
	return d
}

// ScanOnStart reports whether to enumerate HID devices at startup. It
// defaults to true.
func (c *Config) ScanOnStart() bool {
	return c.Devices.ScanOnStart == nil || *c.Devices.ScanOnStart
}

// loadConfig reads path. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Web.Host == "" {
		c.Web.Host = "127.0.0.1"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Store.Path == "" {
		c.Store.Path = "ratbagd.db"
	}
	if c.Devices.DBDir == "" {
		c.Devices.DBDir = "devices"
	}
	if c.Devices.DriverTimeout == "" {
		c.Devices.DriverTimeout = "2s"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "ratbag"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ratbagd"
	}
	if c.Automation.ScriptsDir == "" {
		c.Automation.ScriptsDir = "scripts"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

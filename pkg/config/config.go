// Package config holds the application configuration: backend endpoint,
// data directory, wearable GATT layout, and scan tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config lists the tunable parameters for the Kavach daemon and CLI.
type Config struct {
	LogLevel   string `yaml:"log_level" default:"info"`
	BackendURL string `yaml:"backend_url" default:"https://api.kavach.app"`

	// DataDir holds the sqlite store and the sealing key. Empty resolves
	// to the platform user-config directory.
	DataDir string `yaml:"data_dir"`

	// GeoIPDatabase enables the IP-derived location fallback when set.
	GeoIPDatabase string `yaml:"geoip_database"`

	WearableName string `yaml:"wearable_name" default:"kavach"`
	ServiceUUID  string `yaml:"service_uuid" default:"ffe0"`
	NotifyUUID   string `yaml:"notify_uuid" default:"ffe1"`

	ScanWindow     time.Duration `yaml:"scan_window" default:"20s"`
	WearableWindow time.Duration `yaml:"wearable_window" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveDataDir returns the effective data directory, creating it if
// needed.
func (c *Config) ResolveDataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve data dir: %w", err)
		}
		dir = filepath.Join(base, "kavach")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Package config loads the daemon's YAML configuration, applies
// defaults, and validates it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smarthomesven/duuxbridge/internal/cloudgarden"
	"github.com/smarthomesven/duuxbridge/internal/history"
	"github.com/smarthomesven/duuxbridge/internal/hostmqtt"
	"github.com/smarthomesven/duuxbridge/internal/session"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/duuxbridge/config.yaml"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultStatePath           = "/var/lib/duuxbridge/session.json"
	DefaultRegistryPath        = "/var/lib/duuxbridge/devices.db"
	DefaultPollIntervalSeconds = 15
)

type Config struct {
	SchemaVersion int                 `yaml:"schema_version"`
	Core          CoreConfig          `yaml:"core"`
	MQTT          hostmqtt.Config     `yaml:"mqtt"`
	Blob          *session.BlobConfig `yaml:"blob"`
	History       history.Config      `yaml:"history"`
}

type CoreConfig struct {
	HTTPAddr            string `yaml:"http_addr"`
	CloudBaseURL        string `yaml:"cloud_base_url"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	StatePath           string `yaml:"state_path"`
	RegistryPath        string `yaml:"registry_path"`
}

// PollInterval returns the configured polling cadence.
func (c CoreConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.CloudBaseURL == "" {
		cfg.Core.CloudBaseURL = cloudgarden.DefaultBaseURL
	}
	if cfg.Core.PollIntervalSeconds == 0 {
		cfg.Core.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if cfg.Core.StatePath == "" {
		cfg.Core.StatePath = DefaultStatePath
	}
	if cfg.Core.RegistryPath == "" {
		cfg.Core.RegistryPath = DefaultRegistryPath
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.PollIntervalSeconds < 0 {
		return fmt.Errorf("core.poll_interval_seconds must not be negative")
	}

	if err := cfg.MQTT.Validate(); err != nil {
		return err
	}
	if cfg.Blob != nil {
		if err := cfg.Blob.Validate(); err != nil {
			return err
		}
	}
	if err := cfg.History.Validate(); err != nil {
		return err
	}
	return nil
}

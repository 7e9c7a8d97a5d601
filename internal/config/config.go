package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"

	TrackingEventHandler = "event-handler"
	TrackingChangeStream = "change-stream"
)

// Config models taskview.yml.
type Config struct {
	Storage struct {
		Profile string `yaml:"profile"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`
	Consistency struct {
		Eventual       bool          `yaml:"eventual"`
		MaxAttempts    int           `yaml:"max_attempts"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
	} `yaml:"consistency"`
	ChangeTracking struct {
		Mode   string `yaml:"mode"`
		Buffer int    `yaml:"buffer"`
	} `yaml:"change_tracking"`
	Payload struct {
		AttributeLevelLimit int `yaml:"attribute_level_limit"`
	} `yaml:"payload"`
	Server struct {
		Addr               string `yaml:"addr"`
		JWTSecret          string `yaml:"jwt_secret"`
		AllowUserHeaders   bool   `yaml:"allow_user_headers"`
		SubscriptionBuffer int    `yaml:"subscription_buffer"`
	} `yaml:"server"`
}

// Default returns a runnable configuration: in-memory storage, synchronous
// change tracking, no payload trimming.
func Default() *Config {
	cfg := &Config{}
	cfg.Storage.Profile = StorageMemory
	cfg.Consistency.MaxAttempts = 5
	cfg.Consistency.InitialBackoff = 100 * time.Millisecond
	cfg.ChangeTracking.Mode = TrackingEventHandler
	cfg.ChangeTracking.Buffer = 256
	cfg.Payload.AttributeLevelLimit = -1
	cfg.Server.Addr = ":8080"
	cfg.Server.SubscriptionBuffer = 32
	return cfg
}

// Load reads and validates config from the given path. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document, rejecting unknown fields.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Profile {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("config.storage.path is required for the sqlite profile")
		}
	default:
		return fmt.Errorf("config.storage.profile must be %q or %q", StorageMemory, StorageSQLite)
	}
	if c.Consistency.MaxAttempts < 0 {
		return fmt.Errorf("config.consistency.max_attempts must not be negative")
	}
	if c.Consistency.InitialBackoff < 0 {
		return fmt.Errorf("config.consistency.initial_backoff must not be negative")
	}
	switch c.ChangeTracking.Mode {
	case TrackingEventHandler, TrackingChangeStream:
	default:
		return fmt.Errorf("config.change_tracking.mode must be %q or %q", TrackingEventHandler, TrackingChangeStream)
	}
	if c.ChangeTracking.Buffer < 1 {
		return fmt.Errorf("config.change_tracking.buffer must be positive")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.SubscriptionBuffer < 1 {
		return fmt.Errorf("config.server.subscription_buffer must be positive")
	}
	return nil
}

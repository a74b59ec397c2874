// Package config loads the declarative runtime configuration: which broker
// and serializer to use, DLQ storage, and the publisher/subscriber roster.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Load when the config file does not exist.
var ErrNotFound = errors.New("config: file not found")

// Config is the full runtime configuration.
type Config struct {
	Broker      Broker           `yaml:"broker"`
	Serializer  Serializer       `yaml:"serializer"`
	DLQ         DLQ              `yaml:"dlq"`
	Publishers  []PublisherSpec  `yaml:"publishers"`
	Subscribers []SubscriberSpec `yaml:"subscribers"`
	Health      Health           `yaml:"health"`
	Logging     Logging          `yaml:"logging"`
}

// Broker selects and tunes the broker backend.
type Broker struct {
	Type           string `yaml:"type"`
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
}

// Serializer selects the wire codec.
type Serializer struct {
	Type string `yaml:"type"`
}

// DLQ configures the dead-letter store.
type DLQ struct {
	Enabled              bool   `yaml:"enabled"`
	StorageType          string `yaml:"storage_type"`
	FilePath             string `yaml:"file_path"`
	MaxRetries           int    `yaml:"max_retries"`
	RetentionDays        int    `yaml:"retention_days"`
	AutoRetry            bool   `yaml:"auto_retry"`
	RetryIntervalSeconds int    `yaml:"retry_interval_seconds"`
}

// PublisherSpec declares one publisher instance. Type-specific fields are
// interpreted by the publisher builder registered for Type.
type PublisherSpec struct {
	ID              string   `yaml:"id"`
	Type            string   `yaml:"type"`
	Enabled         bool     `yaml:"enabled"`
	Symbols         []string `yaml:"symbols"`
	IntervalSeconds int      `yaml:"interval_seconds"`
	RateLimit       int      `yaml:"rate_limit"`
}

// SubscriberSpec declares one subscriber instance. FilePath backs the
// candle_store type; Host/Port/DefaultChannels back the push type.
type SubscriberSpec struct {
	ID              string   `yaml:"id"`
	Type            string   `yaml:"type"`
	Enabled         bool     `yaml:"enabled"`
	Channels        []string `yaml:"channels"`
	FilePath        string   `yaml:"file_path"`
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	DefaultChannels []string `yaml:"default_channels"`
}

// Health configures the orchestrator's supervision loop.
type Health struct {
	CheckIntervalSeconds int  `yaml:"check_interval"`
	RestartOnFailure     bool `yaml:"restart_on_failure"`
	MaxRestartAttempts   int  `yaml:"max_restart_attempts"`
	RestartDelaySeconds  int  `yaml:"restart_delay"`
}

// CheckInterval returns the supervision poll interval as a duration.
func (h Health) CheckInterval() time.Duration {
	return time.Duration(h.CheckIntervalSeconds) * time.Second
}

// RestartDelay returns the between-attempts wait as a duration.
func (h Health) RestartDelay() time.Duration {
	return time.Duration(h.RestartDelaySeconds) * time.Second
}

// Logging configures the global log output.
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads and parses the config file, applying defaults to anything the
// file leaves unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	return &Config{
		Broker:     Broker{Type: "inmemory"},
		Serializer: Serializer{Type: "json"},
		DLQ: DLQ{
			StorageType:   "file",
			FilePath:      "dlq.db",
			MaxRetries:    3,
			RetentionDays: 7,
		},
		Health: Health{
			CheckIntervalSeconds: 30,
			MaxRestartAttempts:   3,
			RestartDelaySeconds:  5,
		},
		Logging: Logging{Level: "info", JSON: true},
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Broker.Type == "" {
		c.Broker.Type = d.Broker.Type
	}
	if c.Serializer.Type == "" {
		c.Serializer.Type = d.Serializer.Type
	}
	if c.DLQ.StorageType == "" {
		c.DLQ.StorageType = d.DLQ.StorageType
	}
	if c.DLQ.FilePath == "" {
		c.DLQ.FilePath = d.DLQ.FilePath
	}
	if c.DLQ.MaxRetries <= 0 {
		c.DLQ.MaxRetries = d.DLQ.MaxRetries
	}
	if c.DLQ.RetentionDays <= 0 {
		c.DLQ.RetentionDays = d.DLQ.RetentionDays
	}
	if c.Health.CheckIntervalSeconds <= 0 {
		c.Health.CheckIntervalSeconds = d.Health.CheckIntervalSeconds
	}
	if c.Health.MaxRestartAttempts <= 0 {
		c.Health.MaxRestartAttempts = d.Health.MaxRestartAttempts
	}
	if c.Health.RestartDelaySeconds <= 0 {
		c.Health.RestartDelaySeconds = d.Health.RestartDelaySeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Publishers)+len(c.Subscribers))
	for _, p := range c.Publishers {
		if p.ID == "" {
			return errors.New("config: publisher with empty id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("config: duplicate component id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	for _, s := range c.Subscribers {
		if s.ID == "" {
			return errors.New("config: subscriber with empty id")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("config: duplicate component id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Package config loads the command-line configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/types"
)

// DefaultPath is read when no configuration file is named.
const DefaultPath = "redi-migrate.yaml"

// Defaults
const (
	DefaultStateCollection = "mongoengine_migrate"
	DefaultMigrationsDir   = "./migrations"
	DefaultModels          = "./models.yaml"
	DefaultLogLevel        = "info"
	DefaultBatchSize       = 1000
	DefaultWorkers         = 1
	DefaultLockTTL         = 10 * time.Minute
)

// Config holds every setting of the command-line tool. Flags override
// values read from the file.
type Config struct {
	URI             string        `yaml:"uri"`
	StateURI        string        `yaml:"state_uri"`
	StateCollection string        `yaml:"state_collection"`
	MigrationsDir   string        `yaml:"migrations_dir"`
	Models          string        `yaml:"models"`
	BackendVersion  string        `yaml:"backend_version"`
	LogLevel        string        `yaml:"log_level"`
	BatchSize       int           `yaml:"batch_size"`
	Workers         int           `yaml:"workers"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	Policy          types.Policy  `yaml:"policy"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path. A missing file at DefaultPath yields the defaults; a
// missing file named explicitly is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and fills defaults.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.StateCollection == "" {
		c.StateCollection = DefaultStateCollection
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = DefaultMigrationsDir
	}
	if c.Models == "" {
		c.Models = DefaultModels
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.LockTTL == 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.Policy == "" {
		c.Policy = types.PolicyStrict
	}
}

// EffectiveStateURI returns StateURI, falling back to URI.
func (c *Config) EffectiveStateURI() string {
	if c.StateURI != "" {
		return c.StateURI
	}
	return c.URI
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := logger.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := types.ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.LockTTL < 0 {
		return fmt.Errorf("lock_ttl must be positive, got %s", c.LockTTL)
	}
	return nil
}

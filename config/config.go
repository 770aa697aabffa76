// Package config reads the octreeview configuration file.
package config

import (
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/nodecache"
)

// Config describes how to build and observe a node cache.
type Config struct {
	LogLevel      string                        `yaml:"log_level"`
	LogConfig     []logging.LoggerPatternConfig `yaml:"log"`
	StatsInterval string                        `yaml:"stats_interval"`
	Cache         CacheConfig                   `yaml:"cache"`
	Source        SourceConfig                  `yaml:"source"`

	// ConfigFilePath is where the config was read from, if anywhere.
	ConfigFilePath string `yaml:"-"`
}

// Ensure validates every section of the config.
func (c *Config) Ensure() error {
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return utils.NewConfigValidationError("log_level", err)
		}
	}
	for i, pattern := range c.LogConfig {
		if !logging.ValidatePattern(pattern.Pattern) {
			return utils.NewConfigValidationError("log", errors.Errorf("entry %d has invalid pattern %q", i, pattern.Pattern))
		}
	}
	if _, err := c.StatsIntervalDuration(); err != nil {
		return utils.NewConfigValidationError("stats_interval", err)
	}
	if err := c.Cache.Validate("cache"); err != nil {
		return err
	}
	return c.Source.Validate("source")
}

// Level returns the configured log level, INFO by default.
func (c *Config) Level() logging.Level {
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// StatsIntervalDuration parses the stats interval. Zero disables stats reporting.
func (c *Config) StatsIntervalDuration() (time.Duration, error) {
	if c.StatsInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StatsInterval)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Errorf("interval must not be negative, got %s", d)
	}
	return d, nil
}

// CacheConfig configures the node cache.
type CacheConfig struct {
	Eviction    string  `yaml:"eviction"`
	MaxBytes    string  `yaml:"max_bytes"`
	MaxNodes    int     `yaml:"max_nodes"`
	MaxInFlight int     `yaml:"max_in_flight"`
	Seed        *uint64 `yaml:"seed"`
}

// Validate ensures all parts of the config are valid.
func (cfg *CacheConfig) Validate(path string) error {
	policy, err := nodecache.ParseEvictionPolicy(cfg.Eviction)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if policy == nodecache.EvictByCount && cfg.MaxNodes == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "max_nodes")
	}
	if cfg.MaxNodes < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_nodes must not be negative"))
	}
	if cfg.MaxInFlight < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_in_flight must not be negative"))
	}
	if _, err := cfg.maxBytes(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

func (cfg *CacheConfig) maxBytes() (int64, error) {
	if cfg.MaxBytes == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(cfg.MaxBytes)
	if err != nil {
		return 0, errors.Wrap(err, "max_bytes")
	}
	if n < 0 {
		return 0, errors.Errorf("max_bytes must not be negative, got %s", cfg.MaxBytes)
	}
	return n, nil
}

// Options converts the config to cache options.
func (cfg *CacheConfig) Options() (nodecache.Options, error) {
	if err := cfg.Validate("cache"); err != nil {
		return nodecache.Options{}, err
	}
	policy, err := nodecache.ParseEvictionPolicy(cfg.Eviction)
	if err != nil {
		return nodecache.Options{}, err
	}
	maxBytes, err := cfg.maxBytes()
	if err != nil {
		return nodecache.Options{}, err
	}
	opts := nodecache.Options{
		Eviction:    policy,
		MaxBytes:    maxBytes,
		MaxNodes:    cfg.MaxNodes,
		MaxInFlight: cfg.MaxInFlight,
	}
	if cfg.Seed != nil {
		opts.Rand = nodecache.NewSeededRand(*cfg.Seed)
	}
	return opts, nil
}

// Source types.
const (
	SourceTypeSQLite = "sqlite"
	SourceTypeRemote = "remote"
)

// SourceConfig selects where nodes are fetched from.
type SourceConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
}

// Validate ensures all parts of the config are valid.
func (cfg *SourceConfig) Validate(path string) error {
	switch cfg.Type {
	case SourceTypeSQLite:
		if cfg.Path == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "path")
		}
	case SourceTypeRemote:
		if cfg.URL == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "url")
		}
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "type")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown source type %q", cfg.Type))
	}
	return nil
}

// Package config loads spoolcache settings from a YAML file with
// environment overrides, and turns the backend section into ready-to-use
// pgtable options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/spoolcache"
	"github.com/unkn0wn-root/spoolcache/backend/pgtable"
)

// BackendConfig holds the tabular-backend connection and behavior
// settings.
type BackendConfig struct {
	DriverURL string `yaml:"driver_url"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`

	TableName string `yaml:"table_name"`
	MaxActive int    `yaml:"max_active"`

	TestBeforeInsert bool `yaml:"test_before_insert"`
	AllowRemoveAll   bool `yaml:"allow_remove_all"`

	// ShrinkerIntervalS is the expiry sweep cadence in seconds; 0
	// disables the sweeper.
	ShrinkerIntervalS int `yaml:"shrinker_interval_s"`
}

// Config is the top-level settings document.
type Config struct {
	// Region labels this cache's partition of the shared table.
	// CacheName is an accepted alias; Region wins when both are set.
	Region    string `yaml:"region"`
	CacheName string `yaml:"cache_name"`

	QueueCapacity   int `yaml:"queue_capacity"`
	AppendTimeoutMS int `yaml:"append_timeout_ms"`

	Backend BackendConfig `yaml:"backend"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		QueueCapacity:   2048,
		AppendTimeoutMS: 50,
		Backend: BackendConfig{
			TableName:         pgtable.DefaultTable,
			MaxActive:         8,
			ShrinkerIntervalS: 300,
		},
	}
}

// Load reads a YAML file over the defaults and applies env overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	FromEnv(cfg)
	return cfg, cfg.validate()
}

// Parse decodes a YAML document over the defaults, without env
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, cfg.validate()
}

// FromEnv applies environment variable overrides to cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SPOOLCACHE_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("SPOOLCACHE_DRIVER_URL"); v != "" {
		cfg.Backend.DriverURL = v
	}
	if v := os.Getenv("SPOOLCACHE_DB_USER"); v != "" {
		cfg.Backend.User = v
	}
	if v := os.Getenv("SPOOLCACHE_DB_PASSWORD"); v != "" {
		cfg.Backend.Password = v
	}
	if v := os.Getenv("SPOOLCACHE_TABLE_NAME"); v != "" {
		cfg.Backend.TableName = v
	}
	if v := os.Getenv("SPOOLCACHE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueCapacity = n
		}
	}
}

func (c *Config) validate() error {
	if c.RegionName() == "" {
		return fmt.Errorf("config: region (or cache_name) is required")
	}
	return nil
}

// RegionName resolves the region / cache_name alias pair.
func (c *Config) RegionName() string {
	if c.Region != "" {
		return c.Region
	}
	return c.CacheName
}

// AppendTimeout converts the millisecond setting.
func (c *Config) AppendTimeout() time.Duration {
	return time.Duration(c.AppendTimeoutMS) * time.Millisecond
}

// PoolConfig builds a pgxpool configuration from the backend section.
func (b BackendConfig) PoolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(b.DriverURL)
	if err != nil {
		return nil, fmt.Errorf("config: driver_url: %w", err)
	}
	if b.User != "" {
		pc.ConnConfig.User = b.User
	}
	if b.Password != "" {
		pc.ConnConfig.Password = b.Password
	}
	if b.MaxActive > 0 {
		pc.MaxConns = int32(b.MaxActive)
	}
	return pc, nil
}

// TableOptions assembles pgtable options for a pool built from
// PoolConfig.
func (c *Config) TableOptions(pool *pgxpool.Pool, log spoolcache.Logger) pgtable.Options {
	return pgtable.Options{
		Pool:             pool,
		ClosePool:        true,
		Table:            c.Backend.TableName,
		Region:           c.RegionName(),
		TestBeforeInsert: c.Backend.TestBeforeInsert,
		AllowRemoveAll:   c.Backend.AllowRemoveAll,
		SweepInterval:    time.Duration(c.Backend.ShrinkerIntervalS) * time.Second,
		Logger:           log,
	}
}

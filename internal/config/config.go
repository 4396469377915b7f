package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Catalog  CatalogConfig   `mapstructure:"catalog"`
	Datasets []DatasetConfig `mapstructure:"datasets"`
	Scanner  ScannerConfig   `mapstructure:"scanner"`
	Store    StoreConfig     `mapstructure:"store"`
	Etcd     EtcdConfig      `mapstructure:"etcd"`
	Queue    QueueConfig     `mapstructure:"queue"`
	Watcher  WatcherConfig   `mapstructure:"watcher"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"` // Bind address (e.g., 0.0.0.0 for all interfaces)
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CatalogConfig controls the refresh scheduler
type CatalogConfig struct {
	Workers         int           `mapstructure:"workers"`          // Max concurrent dataset refreshes (default: 4)
	RefreshDelay    time.Duration `mapstructure:"refresh_delay"`    // Delay between scheduler ticks of one dataset (default: 1s)
	RefreshTimeout  time.Duration `mapstructure:"refresh_timeout"`  // Per-refresh deadline, 0 = none
	ScanParallelism int           `mapstructure:"scan_parallelism"` // Concurrent file scans within one refresh (default: 4)
	DataDir         string        `mapstructure:"data_dir"`         // Local state (definitions file, scan cache)
}

// DatasetConfig is an initial dataset definition
type DatasetConfig struct {
	ID             string `mapstructure:"id"`
	Title          string `mapstructure:"title"`
	Location       string `mapstructure:"location"`
	Scanner        string `mapstructure:"scanner"`
	Disabled       bool   `mapstructure:"disabled"`
	Queryable      *bool  `mapstructure:"queryable"`       // default: true
	UpdateInterval *int   `mapstructure:"update_interval"` // minutes, default: -1 (never)
	Copyright      string `mapstructure:"copyright"`
	MoreInfo       string `mapstructure:"more_info"`
}

// ScannerConfig configures metadata scanners
type ScannerConfig struct {
	HTTPTimeout time.Duration `mapstructure:"http_timeout"` // Per-request timeout for remote locations
	Retry       RetryConfig   `mapstructure:"retry"`
	Cache       CacheConfig   `mapstructure:"cache"`
}

// RetryConfig controls retries of remote scans
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// CacheConfig controls the local file scan cache
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"` // Snapshot path, relative paths are under catalog.data_dir
}

// StoreConfig selects where dataset definitions are persisted
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory, file, etcd
	File    string `mapstructure:"file"`    // TOML file for the file backend
}

// EtcdConfig represents etcd configuration
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// QueueConfig represents message queue configuration
type QueueConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Type          string   `mapstructure:"type"`           // Queue type: nats (default), redis, kafka, memory
	URL           string   `mapstructure:"url"`            // Queue server URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Username      string   `mapstructure:"username"`       // Optional authentication
	Password      string   `mapstructure:"password"`       // Optional authentication
	SubjectPrefix string   `mapstructure:"subject_prefix"` // Prefix of event and trigger subjects (default: gridcat)
	RedisDB       int      `mapstructure:"redis_db"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	KafkaGroupID  string   `mapstructure:"kafka_group_id"` // default: hostname, so every node sees every trigger
}

// WatcherConfig controls filesystem change detection
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication on admin routes
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, UnixMs, etc
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog config: %w", err)
	}

	seen := make(map[string]bool, len(c.Datasets))
	for i := range c.Datasets {
		if err := c.Datasets[i].Validate(); err != nil {
			return fmt.Errorf("datasets[%d]: %w", i, err)
		}
		if seen[c.Datasets[i].ID] {
			return fmt.Errorf("datasets[%d]: duplicate id %q", i, c.Datasets[i].ID)
		}
		seen[c.Datasets[i].ID] = true
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if c.Store.Backend == "etcd" {
		if err := c.Etcd.Validate(); err != nil {
			return fmt.Errorf("etcd config: %w", err)
		}
	}

	if c.Queue.Enabled {
		if err := c.Queue.Validate(); err != nil {
			return fmt.Errorf("queue config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// Validate validates catalog configuration
func (c *CatalogConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("catalog.workers must be at least 1")
	}
	if c.RefreshDelay <= 0 {
		return fmt.Errorf("catalog.refresh_delay must be positive")
	}
	if c.RefreshTimeout < 0 {
		return fmt.Errorf("catalog.refresh_timeout cannot be negative")
	}
	if c.ScanParallelism < 1 {
		return fmt.Errorf("catalog.scan_parallelism must be at least 1")
	}
	return nil
}

// Validate validates an initial dataset definition
func (c *DatasetConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if c.Location == "" {
		return fmt.Errorf("location is required")
	}
	return nil
}

// Validate validates store configuration
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "etcd":
	case "file":
		if c.File == "" {
			return fmt.Errorf("store.file is required for the file backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, file, etcd")
	}
	return nil
}

// Validate validates etcd configuration
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("etcd.dial_timeout must be positive")
	}

	return nil
}

// Validate validates queue configuration
func (c *QueueConfig) Validate() error {
	switch strings.ToLower(c.Type) {
	case "", "nats", "redis", "memory":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("queue.kafka_brokers is required for kafka")
		}
	default:
		return fmt.Errorf("queue.type must be one of: nats, redis, kafka, memory")
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("queue.subject_prefix is required")
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}

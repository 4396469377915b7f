package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")            // Current directory
		v.AddConfigPath("./configs")    // Project configs directory
		v.AddConfigPath("/etc/gridcat") // System-wide config
	}

	setDefaults(v)

	// Environment overrides: GRIDCAT_SERVER_PORT, GRIDCAT_QUEUE_URL, ...
	v.SetEnvPrefix("GRIDCAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("catalog.workers", d.Catalog.Workers)
	v.SetDefault("catalog.refresh_delay", d.Catalog.RefreshDelay)
	v.SetDefault("catalog.refresh_timeout", d.Catalog.RefreshTimeout)
	v.SetDefault("catalog.scan_parallelism", d.Catalog.ScanParallelism)
	v.SetDefault("catalog.data_dir", d.Catalog.DataDir)

	v.SetDefault("scanner.http_timeout", d.Scanner.HTTPTimeout)
	v.SetDefault("scanner.retry.max_retries", d.Scanner.Retry.MaxRetries)
	v.SetDefault("scanner.retry.initial_interval", d.Scanner.Retry.InitialInterval)
	v.SetDefault("scanner.retry.max_interval", d.Scanner.Retry.MaxInterval)
	v.SetDefault("scanner.cache.enabled", d.Scanner.Cache.Enabled)
	v.SetDefault("scanner.cache.file", d.Scanner.Cache.File)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.file", d.Store.File)

	v.SetDefault("etcd.endpoints", d.Etcd.Endpoints)
	v.SetDefault("etcd.prefix", d.Etcd.Prefix)
	v.SetDefault("etcd.dial_timeout", d.Etcd.DialTimeout)

	v.SetDefault("queue.enabled", d.Queue.Enabled)
	v.SetDefault("queue.type", d.Queue.Type)
	v.SetDefault("queue.url", d.Queue.URL)
	v.SetDefault("queue.subject_prefix", d.Queue.SubjectPrefix)

	v.SetDefault("watcher.enabled", d.Watcher.Enabled)
	v.SetDefault("watcher.debounce", d.Watcher.Debounce)

	v.SetDefault("auth.enabled", d.Auth.Enabled)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Catalog: CatalogConfig{
			Workers:         4,
			RefreshDelay:    time.Second,
			ScanParallelism: 4,
			DataDir:         "./data",
		},
		Scanner: ScannerConfig{
			HTTPTimeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			Cache: CacheConfig{
				Enabled: true,
				File:    "scan-cache.snappy",
			},
		},
		Store: StoreConfig{
			Backend: "memory",
			File:    "datasets.toml",
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{"http://localhost:2379"},
			Prefix:      "/gridcat",
			DialTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			Type:          "nats",
			URL:           "nats://localhost:4222",
			SubjectPrefix: "gridcat",
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Debounce: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/resilink/internal/channel"
	"github.com/vietddude/resilink/internal/connectivity"
	"github.com/vietddude/resilink/internal/queue"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Channel.HeartbeatInterval == 0 {
		cfg.Channel.HeartbeatInterval = channel.DefaultConfig.HeartbeatInterval
	}
	if cfg.Channel.HeartbeatTimeout == 0 {
		cfg.Channel.HeartbeatTimeout = channel.DefaultConfig.HeartbeatTimeout
	}
	if cfg.Channel.DialTimeout == 0 {
		cfg.Channel.DialTimeout = channel.DefaultConfig.DialTimeout
	}

	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}

	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = queue.DefaultConfig.Capacity
	}
	if cfg.Queue.Retention == 0 {
		cfg.Queue.Retention = queue.DefaultConfig.Retention
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = queue.DefaultConfig.MaxAttempts
	}

	if cfg.Connectivity.PollInterval == 0 {
		cfg.Connectivity.PollInterval = connectivity.DefaultConfig.PollInterval
	}
	if cfg.Connectivity.ProbeTimeout == 0 {
		cfg.Connectivity.ProbeTimeout = connectivity.DefaultConfig.ProbeTimeout
	}
	if cfg.Connectivity.MinDrainInterval == 0 {
		cfg.Connectivity.MinDrainInterval = connectivity.DefaultConfig.MinDrainInterval
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Storage.Namespace == "" {
		cfg.Storage.Namespace = "default"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/resilink.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the settings needed to run the client.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Channel.URL == "" {
		errs = append(errs, errors.New("channel.url is required"))
	}
	if c.Channel.HeartbeatTimeout <= c.Channel.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("channel.heartbeat_timeout (%s) must exceed heartbeat_interval (%s)",
			c.Channel.HeartbeatTimeout, c.Channel.HeartbeatInterval))
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverRedis:
		if c.Storage.Redis.URL == "" {
			errs = append(errs, errors.New("storage.redis.url is required for the redis driver"))
		}
	case DriverPostgres:
		if c.Storage.Database.URL == "" {
			errs = append(errs, errors.New("storage.database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

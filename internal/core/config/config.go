package config

import (
	"time"

	"github.com/vietddude/resilink/internal/connectivity"
	"github.com/vietddude/resilink/internal/core/domain"
	redisclient "github.com/vietddude/resilink/internal/infra/redis"
	"github.com/vietddude/resilink/internal/infra/storage/sqlstore"
	"github.com/vietddude/resilink/internal/infra/wsconn"
	"github.com/vietddude/resilink/internal/queue"
	"github.com/vietddude/resilink/internal/retry"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig        `yaml:"server"`
	Channel      ChannelConfig       `yaml:"channel"`
	API          APIConfig           `yaml:"api"`
	Retry        RetryOverrides      `yaml:"retry"`
	Queue        queue.Config        `yaml:"queue"`
	Connectivity connectivity.Config `yaml:"connectivity"`
	Storage      StorageConfig       `yaml:"storage"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds the health server settings. A zero GRPCPort disables gRPC health.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"`
}

// ChannelConfig holds realtime channel settings.
type ChannelConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	Reconnect         RetryConfig   `yaml:"reconnect"`
	WebSocket         wsconn.Config `yaml:"websocket"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	Breaker BreakerConfig     `yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// RetryConfig overrides fields of a retry spec. Zero fields keep the base value.
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// RetryOverrides holds per operation class overrides.
type RetryOverrides struct {
	Read   RetryConfig `yaml:"read"`
	Write  RetryConfig `yaml:"write"`
	Upload RetryConfig `yaml:"upload"`
}

// StorageConfig selects the durable store for the replay queue.
type StorageConfig struct {
	Driver    string             `yaml:"driver"` // memory, redis, postgres, sqlite
	Namespace string             `yaml:"namespace"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  sqlstore.Config    `yaml:"database"`
	SQLite    SQLiteConfig       `yaml:"sqlite"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Apply returns base with the configured fields replaced.
func (r RetryConfig) Apply(base retry.Spec) retry.Spec {
	if r.BaseDelay > 0 {
		base.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		base.MaxDelay = r.MaxDelay
	}
	if r.MaxAttempts > 0 {
		base.MaxAttempts = r.MaxAttempts
	}
	return base
}

// Specs returns the retry spec table with overrides applied.
func (o RetryOverrides) Specs() retry.Specs {
	return retry.Specs{
		domain.ClassRead:   o.Read.Apply(retry.ReadSpec),
		domain.ClassWrite:  o.Write.Apply(retry.WriteSpec),
		domain.ClassUpload: o.Upload.Apply(retry.UploadSpec),
	}
}

func (b BreakerConfig) Breaker() retry.BreakerConfig {
	return retry.BreakerConfig{
		FailureThreshold: b.FailureThreshold,
		RecoveryTimeout:  b.RecoveryTimeout,
	}
}

// Package config provides unified configuration for the shard router.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full shard router configuration.
type Config struct {
	// DataDir is the base directory for local state (registry database,
	// local snapshot archive).
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration for the admin API.
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Breaker configuration applies to every per-partition circuit breaker.
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`

	// Balancer configuration.
	Balancer BalancerConfig `json:"balancer" yaml:"balancer"`

	// Router configuration for cross-partition queries.
	Router RouterConfig `json:"router" yaml:"router"`

	// Scaler configuration for the capacity monitor.
	Scaler ScalerConfig `json:"scaler" yaml:"scaler"`

	// Storage configuration for snapshot archival.
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// HTTPConfig holds admin HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address for the admin API.
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold is the failure count inside the window that trips
	// a breaker open.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// SuccessThreshold is the consecutive probe successes needed to close
	// a half-open breaker.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`

	// CoolDown is how long a breaker stays open before probing.
	CoolDown time.Duration `json:"cool_down" yaml:"cool_down"`

	// Window is the trailing window for failure counting.
	Window time.Duration `json:"window" yaml:"window"`
}

// BalancerConfig holds load balancer configuration.
type BalancerConfig struct {
	// Strategy is the selection strategy name.
	Strategy string `json:"strategy" yaml:"strategy"`

	// StorageWeight and LatencyWeight tune the resource-based score.
	StorageWeight float64 `json:"storage_weight" yaml:"storage_weight"`
	LatencyWeight float64 `json:"latency_weight" yaml:"latency_weight"`
}

// RouterConfig holds query router configuration.
type RouterConfig struct {
	// FanoutDeadline bounds every cross-partition query.
	FanoutDeadline time.Duration `json:"fanout_deadline" yaml:"fanout_deadline"`

	// CacheTTL is the lifetime of cached aggregations.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// Concurrency bounds simultaneous partition calls per query.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// ScalerConfig holds capacity monitor configuration.
type ScalerConfig struct {
	// Enabled controls whether the monitor daemon runs.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CheckInterval is the monitoring cadence.
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// StorageHighWater is the used-storage fraction that triggers scaling.
	StorageHighWater float64 `json:"storage_high_water" yaml:"storage_high_water"`

	// RecordSoftCap is the record count that triggers scaling.
	RecordSoftCap int64 `json:"record_soft_cap" yaml:"record_soft_cap"`

	// LatencyThreshold is the average latency that triggers scaling.
	LatencyThreshold time.Duration `json:"latency_threshold" yaml:"latency_threshold"`
}

// StorageConfig holds snapshot archival configuration.
type StorageConfig struct {
	// Type selects the backend: "local" or "s3". Empty disables archival.
	Type string `json:"type" yaml:"type"`

	// Path is the base directory for local storage.
	Path string `json:"path" yaml:"path"`

	// KeepSnapshots is how many snapshots to retain (0 keeps everything).
	KeepSnapshots int `json:"keep_snapshots" yaml:"keep_snapshots"`

	// S3 holds S3 backend settings.
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage settings.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			CoolDown:         30 * time.Second,
			Window:           time.Minute,
		},
		Balancer: BalancerConfig{
			Strategy:      "round_robin",
			StorageWeight: 0.7,
			LatencyWeight: 0.3,
		},
		Router: RouterConfig{
			FanoutDeadline: 2 * time.Second,
			CacheTTL:       30 * time.Second,
			Concurrency:    16,
		},
		Scaler: ScalerConfig{
			Enabled:          true,
			CheckInterval:    30 * time.Second,
			StorageHighWater: 0.85,
			RecordSoftCap:    10_000_000,
			LatencyThreshold: 250 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type:          "local",
			KeepSnapshots: 16,
		},
	}
}

// Resolve fills derived paths from DataDir.
func (c *Config) Resolve() {
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
}

// RegistryPath is the SQLite database path for registry state.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "registry.db")
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker.success_threshold must be positive")
	}
	if c.Breaker.CoolDown <= 0 || c.Breaker.Window <= 0 {
		return fmt.Errorf("breaker cool_down and window must be positive")
	}
	if c.Router.FanoutDeadline <= 0 {
		return fmt.Errorf("router.fanout_deadline must be positive")
	}
	if c.Router.CacheTTL <= 0 {
		return fmt.Errorf("router.cache_ttl must be positive")
	}
	if c.Scaler.StorageHighWater <= 0 || c.Scaler.StorageHighWater > 1 {
		return fmt.Errorf("scaler.storage_high_water must be in (0, 1]")
	}
	switch c.Storage.Type {
	case "", "local", "s3":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required for s3 storage")
	}
	return nil
}

// EnsureDirectories creates the directories the router needs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" && c.Storage.Path != "" {
		dirs = append(dirs, c.Storage.Path)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, applying
// defaults for unset fields.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides configuration fields from environment variables.
// Environment variables use the SHARDROUTER_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SHARDROUTER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SHARDROUTER_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Breaker configuration
	if v := os.Getenv("SHARDROUTER_BREAKER_FAILURE_THRESHOLD"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Breaker.FailureThreshold)
	}
	if v := os.Getenv("SHARDROUTER_BREAKER_SUCCESS_THRESHOLD"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Breaker.SuccessThreshold)
	}
	if v := os.Getenv("SHARDROUTER_BREAKER_COOL_DOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Breaker.CoolDown = d
		}
	}
	if v := os.Getenv("SHARDROUTER_BREAKER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Breaker.Window = d
		}
	}

	// Balancer configuration
	if v := os.Getenv("SHARDROUTER_BALANCER_STRATEGY"); v != "" {
		cfg.Balancer.Strategy = v
	}

	// Router configuration
	if v := os.Getenv("SHARDROUTER_ROUTER_FANOUT_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Router.FanoutDeadline = d
		}
	}
	if v := os.Getenv("SHARDROUTER_ROUTER_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Router.CacheTTL = d
		}
	}
	if v := os.Getenv("SHARDROUTER_ROUTER_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Router.Concurrency)
	}

	// Scaler configuration
	if v := os.Getenv("SHARDROUTER_SCALER_ENABLED"); v != "" {
		cfg.Scaler.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SHARDROUTER_SCALER_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scaler.CheckInterval = d
		}
	}
	if v := os.Getenv("SHARDROUTER_SCALER_STORAGE_HIGH_WATER"); v != "" {
		fmt.Sscanf(v, "%f", &cfg.Scaler.StorageHighWater)
	}
	if v := os.Getenv("SHARDROUTER_SCALER_RECORD_SOFT_CAP"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Scaler.RecordSoftCap)
	}
	if v := os.Getenv("SHARDROUTER_SCALER_LATENCY_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scaler.LatencyThreshold = d
		}
	}

	// Storage configuration
	if v := os.Getenv("SHARDROUTER_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("SHARDROUTER_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SHARDROUTER_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("SHARDROUTER_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("SHARDROUTER_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/engine"
)

// Config holds all application configuration.
type Config struct {
	Pool      PoolConfig
	Cache     CacheConfig
	Buffer    BufferConfig
	Execution ExecutionConfig
	Network   NetworkConfig
	Logging   LogConfig
	Metrics   MetricsConfig
}

// PoolConfig holds runtime pool configuration.
type PoolConfig struct {
	Size           int           `envconfig:"SCRIPT_POOL_SIZE" default:"4"`
	AcquireTimeout time.Duration `envconfig:"SCRIPT_POOL_ACQUIRE_TIMEOUT" default:"5s"`
	MaxUses        int           `envconfig:"SCRIPT_POOL_MAX_USES" default:"256"`
}

// CacheConfig holds compile cache configuration.
type CacheConfig struct {
	Capacity int   `envconfig:"SCRIPT_CACHE_CAPACITY" default:"512"`
	MaxBytes int64 `envconfig:"SCRIPT_CACHE_MAX_BYTES" default:"67108864"`
}

// BufferConfig holds native buffer memory configuration.
type BufferConfig struct {
	MaxLength        int64         `envconfig:"SCRIPT_BUFFER_MAX_LENGTH" default:"4294967296"`
	AllocCeiling     int64         `envconfig:"SCRIPT_BUFFER_ALLOC_CEILING" default:"268435456"`
	PoolThreshold    int           `envconfig:"SCRIPT_BUFFER_POOL_THRESHOLD" default:"4096"`
	OffHeapThreshold int           `envconfig:"SCRIPT_BUFFER_OFFHEAP_THRESHOLD" default:"65536"`
	SweepInterval    time.Duration `envconfig:"SCRIPT_BUFFER_SWEEP_INTERVAL" default:"30s"`
	SweepWindow      time.Duration `envconfig:"SCRIPT_BUFFER_SWEEP_WINDOW" default:"2m"`
}

// ExecutionConfig holds per-submission defaults.
type ExecutionConfig struct {
	Timeout      time.Duration `envconfig:"SCRIPT_EXEC_TIMEOUT" default:"5s"`
	AwaitAsync   bool          `envconfig:"SCRIPT_EXEC_AWAIT_ASYNC" default:"true"`
	MaxConsole   int           `envconfig:"SCRIPT_EXEC_MAX_CONSOLE" default:"1000"`
	MaxCallDepth int           `envconfig:"SCRIPT_EXEC_MAX_CALL_DEPTH" default:"1024"`
}

// NetworkConfig holds guest fetch configuration.
type NetworkConfig struct {
	Enabled          bool          `envconfig:"SCRIPT_NET_ENABLED" default:"false"`
	Timeout          time.Duration `envconfig:"SCRIPT_NET_TIMEOUT" default:"10s"`
	RequestsPerSec   float64       `envconfig:"SCRIPT_NET_RPS" default:"0"`
	Burst            int           `envconfig:"SCRIPT_NET_BURST" default:"1"`
	Retries          int           `envconfig:"SCRIPT_NET_RETRIES" default:"2"`
	MaxResponseBytes int64         `envconfig:"SCRIPT_NET_MAX_RESPONSE_BYTES" default:"8388608"`
	MaxHosts         int           `envconfig:"SCRIPT_NET_MAX_HOSTS" default:"256"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds metrics exposition configuration.
type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Size:           4,
			AcquireTimeout: 5 * time.Second,
			MaxUses:        256,
		},
		Cache: CacheConfig{
			Capacity: 512,
			MaxBytes: 64 << 20,
		},
		Buffer: BufferConfig{
			MaxLength:        1 << 32,
			AllocCeiling:     256 << 20,
			PoolThreshold:    4096,
			OffHeapThreshold: 64 << 10,
			SweepInterval:    30 * time.Second,
			SweepWindow:      2 * time.Minute,
		},
		Execution: ExecutionConfig{
			Timeout:      5 * time.Second,
			AwaitAsync:   true,
			MaxConsole:   1000,
			MaxCallDepth: 1024,
		},
		Network: NetworkConfig{
			Timeout:          10 * time.Second,
			Burst:            1,
			Retries:          2,
			MaxResponseBytes: 8 << 20,
			MaxHosts:         256,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Engine maps the configuration onto the engine's component configs.
func (c *Config) Engine() engine.Config {
	ec := engine.DefaultConfig()

	ec.Pool.Size = c.Pool.Size
	ec.Pool.AcquireTimeout = c.Pool.AcquireTimeout
	ec.Pool.MaxUses = c.Pool.MaxUses
	ec.Pool.Timeout = c.Execution.Timeout
	ec.Pool.MaxConsoleEntries = c.Execution.MaxConsole
	ec.Pool.MaxCallStackSize = c.Execution.MaxCallDepth

	ec.Cache.Capacity = c.Cache.Capacity
	ec.Cache.MaxBytes = c.Cache.MaxBytes

	ec.Memory.MaxLength = c.Buffer.MaxLength
	ec.Memory.AllocCeiling = c.Buffer.AllocCeiling
	ec.Memory.PoolThreshold = c.Buffer.PoolThreshold
	ec.Memory.OffHeapThreshold = c.Buffer.OffHeapThreshold
	ec.Memory.SweepInterval = c.Buffer.SweepInterval
	ec.Memory.SweepWindow = c.Buffer.SweepWindow

	ec.Network.Enabled = c.Network.Enabled
	ec.Network.Timeout = c.Network.Timeout
	ec.Network.RequestsPerSecond = c.Network.RequestsPerSec
	ec.Network.Burst = c.Network.Burst
	ec.Network.Retries = c.Network.Retries
	ec.Network.MaxResponseBytes = c.Network.MaxResponseBytes
	ec.Network.MaxHosts = c.Network.MaxHosts

	ec.AwaitAsyncResult = c.Execution.AwaitAsync
	return ec
}

// Package config provides 12-factor configuration management for scriptd.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Pool: runtime pool size, acquire timeout, instance recycling
//   - Cache: compile cache capacity and byte bound
//   - Buffer: allocation ceilings, slab and off-heap thresholds, sweep timing
//   - Execution: default timeout and async result handling
//   - Network: guest fetch access, timeouts, rate limit, retries
//   - Logging: Log level and output format
//   - Metrics: Prometheus listen address
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	eng, err := engine.New(cfg.Engine(), logger, nil)
//
// Environment Variables:
//   - SCRIPT_POOL_SIZE, SCRIPT_POOL_ACQUIRE_TIMEOUT, SCRIPT_POOL_MAX_USES
//   - SCRIPT_CACHE_CAPACITY, SCRIPT_CACHE_MAX_BYTES
//   - SCRIPT_BUFFER_MAX_LENGTH, SCRIPT_BUFFER_ALLOC_CEILING
//   - SCRIPT_BUFFER_POOL_THRESHOLD, SCRIPT_BUFFER_OFFHEAP_THRESHOLD
//   - SCRIPT_BUFFER_SWEEP_INTERVAL, SCRIPT_BUFFER_SWEEP_WINDOW
//   - SCRIPT_EXEC_TIMEOUT, SCRIPT_EXEC_AWAIT_ASYNC
//   - SCRIPT_EXEC_MAX_CONSOLE, SCRIPT_EXEC_MAX_CALL_DEPTH
//   - SCRIPT_NET_ENABLED, SCRIPT_NET_TIMEOUT, SCRIPT_NET_RPS, SCRIPT_NET_BURST
//   - SCRIPT_NET_RETRIES, SCRIPT_NET_MAX_RESPONSE_BYTES, SCRIPT_NET_MAX_HOSTS
//   - LOG_LEVEL, LOG_DEV
//   - METRICS_ADDR
package config

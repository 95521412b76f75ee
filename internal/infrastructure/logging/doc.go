// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Logs go to stderr by default; the CLI prints execution results on stdout.
// Engine components receive named child loggers (scriptd.pool,
// scriptd.cache, scriptd.memory, scriptd.fetch) and accept a nil
// *zap.Logger, which they replace with a no-op logger.
//
// Example Usage:
//
//	logger := logging.FromEnv(cfg.Logging.Level, cfg.Logging.Development)
//	defer logger.Sync()
//	logger.Info("Engine starting", zap.Int("pool_size", cfg.Pool.Size))
package logging

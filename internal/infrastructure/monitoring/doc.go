/*
Package monitoring exposes engine metrics to Prometheus.

# Overview

Metrics implements engine.Observer, so handing it to engine.New records
submissions, pool events and buffer region lifecycle as they happen.
Watch adds gauges that read the pool, cache and memory statistics at
scrape time.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	eng, err := engine.New(cfg, logger, metrics)
	if err != nil {
		return err
	}
	metrics.Watch(eng)

	go monitoring.Serve(ctx, ":9090", reg, logger)

All metric names carry the scriptd_ prefix.
*/
package monitoring

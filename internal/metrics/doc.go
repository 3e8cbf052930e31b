/*
Package metrics exports block layer telemetry to Prometheus.

Collector implements physical.Telemetry. Each event updates a series in a
private registry and a small in-memory summary used by the CLI and the
debug endpoint:

	┌─────────────┐
	│  Collector  │  ← physical.Telemetry
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌──────────▼──────┐
	│  Prometheus  │         │  HTTP endpoints │
	│   registry   │         │  /metrics       │
	└──────────────┘         │  /health        │
	                         │  /debug/metrics │
	                         └─────────────────┘

# Series

	<ns>_blocks_created_total{range_type,mode}
	<ns>_block_generation                        histogram
	<ns>_block_fetches_total{range_type,source,status}
	<ns>_block_fetch_duration_seconds{source}    histogram
	<ns>_block_fetch_size_bytes{source}          histogram
	<ns>_block_fetch_retries_total{range_type}
	<ns>_cache_requests_total{outcome}           hit, miss, error
	<ns>_cache_write_failures_total
	<ns>_io_plans_total{state}
	<ns>_errors_total{operation,code}

source is "cache" or "s3"; code is the pkg/errors code of a failed fetch.

# Usage

	collector, err := metrics.NewCollector(cfg.Metrics, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx, cfg.Global.MetricsPort); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A disabled collector still counts blocks and per-source totals for
Snapshot, so the bench command can report them without a registry.
*/
package metrics

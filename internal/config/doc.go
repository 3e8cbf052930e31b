/*
Package config provides configuration management for the accelerator with
multi-source support.

Sources are applied in increasing priority:

	defaults (NewDefault) → YAML file (LoadFromFile) → environment (LoadFromEnv) → CLI flags

# Sections

PhysicalIO holds the block layer knobs: store capacities, block size,
read-ahead, maximum single request size, part size, the sequential prefetch
base and speed, the per-attempt block read timeout and the retry budget,
plus the tail metadata cache switch, endpoint and flush-on-close flag.
Every size, count and timeout must be positive, and an endpoint is required
when the cache is enabled.

LogicalIO controls Parquet footer prefetching. S3 configures the object
store client, Cache the external cache client, Workers the shared fetch
pool, Prefetch the remote column prefetch server and Metrics the Prometheus
endpoint.

# Sizes

Byte sizes are ByteSize values and accept plain integers or human strings:

	physical_io:
	  block_size: 8MB
	  read_ahead: 64KB
	  max_range_size: 8388608

# Flat properties

PhysicalIOConfig.ApplyProperties accepts the dotted keys used by other
accelerator clients (blocksizebytes, sequentialprefetch.base,
cache.endpoint, ...). The same keys are read from the environment as
ACCELERATOR_PHYSICALIO_<KEY>, upper-cased with dots replaced by
underscores, e.g. ACCELERATOR_PHYSICALIO_SEQUENTIALPREFETCH_BASE.
blockreadtimeout is in milliseconds.
*/
package config

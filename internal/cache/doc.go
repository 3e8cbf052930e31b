/*
Package cache provides the external key/value cache used for footer ranges.

Two backends implement types.Cache:

	ValkeyCache   a Valkey or Redis cluster reached through go-redis
	LRU           an in-process, byte-bounded LRU for local runs and tests

New selects the backend from config.CacheConfig and, when a circuit breaker
is configured, wraps it in Guarded:

	┌──────────────┐   Get/Set    ┌──────────────┐   ┌──────────────┐
	│ physical     │ ───────────▶ │ Guarded      │──▶│ ValkeyCache  │
	│ Block        │              │ breaker +    │   │ or LRU       │
	└──────────────┘              │ timeout      │   └──────────────┘
	                              └──────────────┘

Keys are built by the block layer as "s3://bucket/key#etag#start-end", so an
object rewritten under the same name never serves stale bytes.

# Failure handling

A cache is an accelerator, never a source of truth. Errors are reported as
CACHE_ERROR, separately from misses, and the caller falls back to the object
store. After repeated failures the breaker opens: Get turns into an immediate
miss and Set fails fast until the breaker's cool-down elapses.

# Configuration

	cache:
	  backend: valkey
	  port: 6379
	  tls: true
	  max_attempts: 5
	  pool_size: 32
	  min_idle_conns: 16
	  request_timeout: 2s
	  ttl: 1h
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5
	    timeout: 30s
*/
package cache

/*
Package types provides the shared vocabulary of the accelerator: object
identity, byte ranges, read modes, IO plans and the interfaces that connect
the physical IO layer to the object store and to the external cache.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│        Streams and CLI                      │
	│   (internal/stream, cmd/accelerator)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Physical IO                          │
	│   (internal/physical: Blob, BlockManager)   │
	└─────────────────────────────────────────────┘
	          │                    │
	┌─────────┴────────┐  ┌────────┴─────────┐
	│  ObjectClient    │  │  Cache           │
	│ (storage/s3)     │  │ (internal/cache) │
	└──────────────────┘  └──────────────────┘

# Ranges

Range is an inclusive interval [Start, End] tagged with a RangeType. The
type decides whether the bytes may be served from the external cache:
footer metadata and footer index ranges are cacheable, ordinary blocks are
not. Ranges of different types are never merged, so an IOPlan built with
NewIOPlan keeps footer and block ranges apart.

Ranges have two renderings. String gives "start-end", which is the range
component of external cache keys ("s3://bucket/key#etag#start-end").
HTTPRange gives the "bytes=start-end" header value sent to S3.

# Interface Contracts

ObjectClient and Cache accept context.Context on every call and must be
safe for concurrent use. A Cache miss is (nil, false, nil); a Cache error
is reported separately from a miss so callers can decide to fall back to
the object store.
*/
package types

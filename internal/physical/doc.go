/*
Package physical turns (position, length) reads against an S3 object into a
small set of ranged GET requests and serves bytes from the results.

# Components

	Blob ──► BlockManager ──► IOPlanner ──► BlockStore (btree of *Block)
	                │              ▲
	                ├──► RangeOptimiser
	                ├──► SequentialPatternDetector / SequentialReadProgression
	                └──► NewBlock ──► ObjectClient, Cache, Scheduler

BlockStore is the coverage index of one object. It holds non-overlapping
blocks ordered by start and answers "which block covers P" and "where is the
next uncovered byte at or after P". Blocks are only removed by Close.

IOPlanner walks the gaps of the store and returns the uncovered runs of a
target interval. RangeOptimiser cuts runs longer than the maximum request
size into part-sized, part-aligned chunks.

BlockManager runs the whole decision under one mutex per object:

 1. return early if [pos, pos+len-1] is covered
 2. effectiveEnd = pos + max(len, readAhead) - 1
 3. for synchronous reads that continue the previous block, widen to
    pos + size(generation) - 1, clipped to the last byte
 4. plan the gaps, split them, and create one Block per piece

The sequential window grows as blockSize * base^(generation*speed).
Asynchronous plans from Blob.Execute are never widened.

# Blocks

A Block starts its fetch when created, on the shared Scheduler when the tail
metadata cache is enabled and on its own goroutine otherwise. Each attempt
is bounded by the block read timeout and the whole fetch by the retry
count. Footer metadata and footer index ranges consult the external cache
first when caching is enabled; a cache failure counts as a miss and a failed
cache write is only logged. Readers block on the block until the fetch
resolves, their context ends, or the block is closed.

# Ownership

Shared carries the cache, scheduler, telemetry and logger. They are created
and closed by the stream factory; managers and blocks only borrow them.
*/
package physical

package physical

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/retry"
	"github.com/objectfs/accelerator/pkg/types"
)

// BlockState is the lifecycle position of a block.
type BlockState int32

const (
	BlockFetching BlockState = iota
	BlockReady
	BlockFailed
	BlockClosed
)

func (s BlockState) String() string {
	switch s {
	case BlockFetching:
		return "fetching"
	case BlockReady:
		return "ready"
	case BlockFailed:
		return "failed"
	default:
		return "closed"
	}
}

// BlockSpec describes the range a block fetches and why.
type BlockSpec struct {
	Key        types.ObjectKey
	Range      types.Range
	Generation int64
	Mode       types.ReadMode
	StreamID   string
}

// Block owns one asynchronous fetch of one range. Its range never changes.
type Block struct {
	key        types.ObjectKey
	rng        types.Range
	generation int64
	mode       types.ReadMode
	streamID   string

	client  types.ObjectClient
	cache   types.Cache
	timeout time.Duration
	retries int
	shared  *Shared
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.RWMutex
	state BlockState
	data  []byte
	err   error
}

// CacheKey returns the external cache key of a range: "uri#etag#start-end".
func CacheKey(key types.ObjectKey, rng types.Range) string {
	return key.String() + "#" + rng.String()
}

// NewBlock validates bs and starts the fetch. The fetch runs on the shared
// pool when tail metadata caching is enabled and a pool is supplied, and on
// its own goroutine otherwise. A saturated pool also gets a goroutine, so
// back-pressure never fails a read. Any other scheduling error is reported
// here.
func NewBlock(bs BlockSpec, client types.ObjectClient, cfg config.PhysicalIOConfig, shared *Shared) (*Block, error) {
	if client == nil {
		return nil, errors.InvalidInput("new_block", "object client is required")
	}
	if bs.Range.Start < 0 {
		return nil, errors.InvalidInput("new_block", "range start %d is negative", bs.Range.Start)
	}
	if bs.Range.End < bs.Range.Start {
		return nil, errors.InvalidInput("new_block", "range end %d precedes start %d", bs.Range.End, bs.Range.Start)
	}
	if bs.Generation < 0 {
		return nil, errors.InvalidInput("new_block", "generation %d is negative", bs.Generation)
	}
	if cfg.BlockReadTimeout <= 0 || cfg.BlockReadRetryCount <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "block read timeout and retry count must be positive").
			WithComponent("block")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Block{
		key:        bs.Key,
		rng:        bs.Range,
		generation: bs.Generation,
		mode:       bs.Mode,
		streamID:   bs.StreamID,
		client:     client,
		timeout:    cfg.BlockReadTimeout,
		retries:    cfg.BlockReadRetryCount,
		shared:     shared,
		logger: shared.logger().With(
			"component", "block",
			"uri", bs.Key.URI.String(),
			"range", bs.Range.String(),
		),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if cfg.EnableTailMetadataCaching && bs.Range.Type.Cacheable() {
		b.cache = shared.cache()
	}

	if pool := shared.pool(); cfg.EnableTailMetadataCaching && pool != nil {
		err := pool.Submit(ctx, b.fetch)
		if errors.IsCode(err, errors.ErrCodeWorkerBusy) {
			b.logger.Debug("worker pool saturated, fetching on a dedicated goroutine")
			go b.fetch()
			err = nil
		}
		if err != nil {
			cancel()
			return nil, errors.NewError(errors.ErrCodeInitializationFailed, "failed to schedule block fetch").
				WithComponent("block").
				WithOperation("new_block").
				WithDetail("range", bs.Range.String()).
				WithCause(err)
		}
	} else {
		go b.fetch()
	}

	shared.telemetry().BlockCreated(bs.Range.Type, bs.Mode, bs.Generation)
	return b, nil
}

// Range returns the block's range.
func (b *Block) Range() types.Range { return b.rng }

// Start returns the first byte position.
func (b *Block) Start() int64 { return b.rng.Start }

// End returns the last byte position.
func (b *Block) End() int64 { return b.rng.End }

// Generation returns the sequential generation the block was created in.
func (b *Block) Generation() int64 { return b.generation }

// Mode returns the read mode that created the block.
func (b *Block) Mode() types.ReadMode { return b.mode }

// Contains reports whether pos lies within the block.
func (b *Block) Contains(pos int64) bool { return b.rng.Contains(pos) }

// Done is closed once the fetch has resolved.
func (b *Block) Done() <-chan struct{} { return b.done }

// State returns the current lifecycle state.
func (b *Block) State() BlockState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// ReadByte waits for the fetch and returns the byte at pos.
func (b *Block) ReadByte(ctx context.Context, pos int64) (byte, error) {
	if pos < 0 {
		return 0, errors.InvalidInput("read", "position %d is negative", pos)
	}
	if !b.Contains(pos) {
		return 0, errors.InvalidInput("read", "position %d is outside block %s", pos, b.rng)
	}
	data, err := b.wait(ctx)
	if err != nil {
		return 0, err
	}
	return data[pos-b.rng.Start], nil
}

// Read waits for the fetch and copies up to length bytes starting at pos
// into buf[off:]. It returns fewer bytes when the block or buf ends first.
func (b *Block) Read(ctx context.Context, buf []byte, off, length int, pos int64) (int, error) {
	switch {
	case pos < 0:
		return 0, errors.InvalidInput("read", "position %d is negative", pos)
	case off < 0:
		return 0, errors.InvalidInput("read", "buffer offset %d is negative", off)
	case length < 0:
		return 0, errors.InvalidInput("read", "length %d is negative", length)
	case off >= len(buf):
		return 0, errors.InvalidInput("read", "buffer offset %d is beyond buffer length %d", off, len(buf))
	case !b.Contains(pos):
		return 0, errors.InvalidInput("read", "position %d is outside block %s", pos, b.rng)
	}

	data, err := b.wait(ctx)
	if err != nil {
		return 0, err
	}
	rel := pos - b.rng.Start
	n := min(int64(length), int64(len(buf)-off), int64(len(data))-rel)
	copy(buf[off:off+int(n)], data[rel:rel+n])
	return int(n), nil
}

// Close cancels an outstanding fetch and drops any payload. Readers blocked
// on the block get a cancellation error. Close is idempotent.
func (b *Block) Close() {
	b.mu.Lock()
	if b.state == BlockClosed {
		b.mu.Unlock()
		return
	}
	b.state = BlockClosed
	b.data = nil
	b.mu.Unlock()
	b.cancel()
}

func (b *Block) wait(ctx context.Context) ([]byte, error) {
	select {
	case <-b.done:
	case <-b.ctx.Done():
	case <-ctx.Done():
		return nil, errors.FromContext(ctx.Err(), "read").WithComponent("block")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	switch b.state {
	case BlockReady:
		return b.data, nil
	case BlockFailed:
		return nil, b.err
	case BlockClosed:
		return nil, errors.Newf(errors.ErrCodeOperationCanceled, "block %s was closed", b.rng).
			WithComponent("block").WithOperation("read")
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidState, "block %s has not resolved", b.rng).
			WithComponent("block").WithOperation("read")
	}
}

func (b *Block) fetch() {
	started := time.Now()
	initial, maxDelay := b.shared.backoff()
	retryer := retry.New(retry.Config{
		MaxAttempts:  b.retries,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   2,
		Jitter:       initial > 0,
		ShouldRetry:  b.shouldRetry,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			b.shared.telemetry().FetchRetried(b.rng.Type)
			b.logger.Debug("retrying block fetch", "attempt", attempt, "delay", delay, "error", err)
		},
	})

	var (
		data   []byte
		source string
	)
	err := retryer.DoWithContext(b.ctx, func(ctx context.Context) error {
		payload, src, err := b.attempt(ctx)
		if err != nil {
			return err
		}
		data, source = payload, src
		return nil
	})
	b.complete(data, source, err, time.Since(started))
}

func (b *Block) shouldRetry(err error) bool {
	if b.ctx.Err() != nil {
		return false
	}
	switch {
	case errors.IsCode(err, errors.ErrCodeValidationFailed),
		errors.IsCode(err, errors.ErrCodeObjectNotFound),
		errors.IsCode(err, errors.ErrCodeAccessDenied):
		return false
	}
	return true
}

// attempt runs one pass of the fetch procedure under the per-attempt timeout.
func (b *Block) attempt(parent context.Context) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()

	var key string
	if b.cache != nil {
		key = CacheKey(b.key, b.rng)
		if data, ok := b.lookupCache(ctx, key); ok {
			return data, SourceCache, nil
		}
	}

	data, err := b.fetchFromStore(ctx)
	if err != nil {
		return nil, "", err
	}

	if b.cache != nil {
		b.populateCache(parent, key, data)
	}
	return data, SourceStore, nil
}

// lookupCache treats every cache failure as a miss.
func (b *Block) lookupCache(ctx context.Context, key string) ([]byte, bool) {
	started := time.Now()
	value, ok, err := b.cache.Get(ctx, key)
	switch {
	case err != nil:
		b.shared.telemetry().CacheLookup(CacheError)
		b.logger.Warn("cache lookup failed, falling back to object store", "key", key, "error", err)
		return nil, false
	case !ok:
		b.shared.telemetry().CacheLookup(CacheMiss)
		b.logger.Debug("cache miss", "key", key, "duration", time.Since(started))
		return nil, false
	case int64(len(value)) != b.rng.Length():
		b.shared.telemetry().CacheLookup(CacheError)
		b.logger.Warn("cached value has wrong length, ignoring", "key", key,
			"got", len(value), "want", b.rng.Length())
		return nil, false
	}
	b.shared.telemetry().CacheLookup(CacheHit)
	b.logger.Debug("cache hit", "key", key, "duration", time.Since(started))
	return value, true
}

// populateCache is best effort; failures are logged and swallowed.
func (b *Block) populateCache(parent context.Context, key string, data []byte) {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()
	if err := b.cache.Set(ctx, key, data); err != nil {
		b.shared.telemetry().CacheWriteFailed()
		b.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (b *Block) fetchFromStore(ctx context.Context) ([]byte, error) {
	started := time.Now()
	body, err := b.client.GetObject(ctx, types.GetRequest{
		URI:   b.key.URI,
		Range: b.rng,
		ETag:  b.key.ETag,
		Referrer: types.Referrer{
			StreamID: b.streamID,
			Range:    b.rng,
			Mode:     b.mode,
		},
	})
	if err != nil {
		return nil, b.classify(ctx, err)
	}
	defer body.Close()

	// Unblock a stalled body read when the attempt times out or the block closes.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	data := make([]byte, b.rng.Length())
	if _, err := io.ReadFull(body, data); err != nil {
		return nil, b.classify(ctx, err)
	}
	b.logger.Debug("fetched range from object store", "bytes", len(data), "duration", time.Since(started))
	return data, nil
}

func (b *Block) classify(ctx context.Context, err error) error {
	if b.ctx.Err() != nil {
		return errors.FromContext(context.Canceled, "fetch").WithComponent("block").WithCause(err)
	}
	if ctx.Err() != nil {
		return errors.Newf(errors.ErrCodeOperationTimeout, "block fetch exceeded %s", b.timeout).
			WithComponent("block").WithOperation("fetch").WithCause(err)
	}
	if _, ok := errors.CodeOf(err); ok {
		return err
	}
	return errors.NewError(errors.ErrCodeNetworkError, "object store request failed").
		WithComponent("block").WithOperation("fetch").WithCause(err)
}

func (b *Block) complete(data []byte, source string, err error, elapsed time.Duration) {
	b.mu.Lock()
	switch {
	case b.state == BlockClosed:
	case err != nil:
		b.state = BlockFailed
		b.err = errors.NewError(errors.ErrCodeFetchFailed, "failed to fetch block").
			WithComponent("block").
			WithOperation("fetch").
			WithDetail("range", b.rng.String()).
			WithRetryable(false).
			WithCause(err)
		if b.ctx.Err() != nil {
			b.err = errors.Newf(errors.ErrCodeOperationCanceled, "block %s was closed", b.rng).
				WithComponent("block").WithOperation("fetch").WithCause(err)
		}
	default:
		b.state = BlockReady
		b.data = data
	}
	state, failure := b.state, b.err
	b.mu.Unlock()
	close(b.done)

	b.shared.telemetry().BlockFetched(b.rng.Type, source, len(data), elapsed, failure)
	switch state {
	case BlockFailed:
		if errors.IsCode(failure, errors.ErrCodeOperationCanceled) {
			b.logger.Debug("block fetch canceled", "error", failure)
		} else {
			b.logger.Error("block fetch failed", "error", failure, "duration", elapsed)
		}
	case BlockReady:
		b.logger.Debug("block ready", "source", source, "bytes", len(data), "duration", elapsed)
	}
}

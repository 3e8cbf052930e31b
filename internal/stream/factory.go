// Package stream opens seekable readers over S3 objects. A Factory owns the
// process-wide pieces every stream shares: the external cache, the fetch
// pool, the metadata and blob stores, and telemetry.
package stream

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/accelerator/internal/cache"
	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/internal/logical/parquet"
	"github.com/objectfs/accelerator/internal/physical"
	"github.com/objectfs/accelerator/internal/workers"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

const flushTimeout = 30 * time.Second

// Factory creates streams. Build one per process and close it on shutdown.
type Factory struct {
	cfg      *config.Configuration
	client   types.ObjectClient
	shared   *physical.Shared
	cache    types.Cache
	pool     *workers.Pool
	metadata *MetadataStore
	blobs    *BlobStore
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

type factoryOptions struct {
	cache      types.Cache
	telemetry  physical.Telemetry
	logger     *slog.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

// Option configures a Factory.
type Option func(*factoryOptions)

// WithCache supplies the external cache instead of building one from
// configuration. The factory still closes it.
func WithCache(c types.Cache) Option {
	return func(o *factoryOptions) { o.cache = c }
}

// WithTelemetry sets the block layer telemetry sink.
func WithTelemetry(t physical.Telemetry) Option {
	return func(o *factoryOptions) { o.telemetry = t }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *factoryOptions) { o.logger = logger }
}

// WithRetryBackoff sets the delay before the first fetch retry and its cap.
func WithRetryBackoff(initial, limit time.Duration) Option {
	return func(o *factoryOptions) {
		o.backoff, o.maxBackoff = initial, limit
	}
}

// NewFactory validates cfg and builds the shared context. The external cache
// and the fetch pool exist only when tail metadata caching is enabled.
func NewFactory(client types.ObjectClient, cfg *config.Configuration, opts ...Option) (*Factory, error) {
	if client == nil {
		return nil, errors.InvalidInput("new_factory", "object client is required")
	}
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.PhysicalIO.Validate(); err != nil {
		return nil, err
	}

	o := factoryOptions{
		logger:     slog.Default(),
		backoff:    100 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "stream-factory")

	f := &Factory{cfg: cfg, client: client, logger: logger}

	if cfg.PhysicalIO.EnableTailMetadataCaching {
		f.cache = o.cache
		if f.cache == nil {
			c, err := cache.New(cfg.PhysicalIO.CacheEndpoint, cfg.Cache, o.logger)
			if err != nil {
				return nil, err
			}
			f.cache = c
		}
		f.pool = workers.New(cfg.Workers, o.logger)
		logger.Info("external cache enabled", "endpoint", cfg.PhysicalIO.CacheEndpoint, "backend", cfg.Cache.Backend)
	} else {
		if o.cache != nil {
			_ = o.cache.Close()
		}
		logger.Info("external cache disabled")
	}

	f.shared = &physical.Shared{
		Cache:           f.cache,
		Telemetry:       o.telemetry,
		Logger:          o.logger,
		RetryBackoff:    o.backoff,
		MaxRetryBackoff: o.maxBackoff,
	}
	// A nil *workers.Pool must not become a non-nil Scheduler.
	if f.pool != nil {
		f.shared.Pool = f.pool
	}

	f.metadata = NewMetadataStore(client, cfg.PhysicalIO.MetadataStoreCapacity, o.logger)
	f.blobs = NewBlobStore(client, cfg.PhysicalIO, f.shared, o.logger)
	return f, nil
}

// CreateStream opens uri, reading its metadata from the store or with HEAD.
func (f *Factory) CreateStream(ctx context.Context, uri types.S3URI) (*Stream, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	md, err := f.metadata.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	return f.open(ctx, uri, md)
}

// CreateStreamWithMetadata opens uri with metadata the caller already has,
// skipping the HEAD request.
func (f *Factory) CreateStreamWithMetadata(ctx context.Context, uri types.S3URI, md types.ObjectMetadata) (*Stream, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if md.ContentLength < 0 {
		return nil, errors.InvalidInput("create_stream", "content length %d is negative", md.ContentLength)
	}
	f.metadata.Store(uri, md)
	return f.open(ctx, uri, md)
}

func (f *Factory) open(ctx context.Context, uri types.S3URI, md types.ObjectMetadata) (*Stream, error) {
	id := uuid.NewString()
	key := types.ObjectKey{URI: uri, ETag: md.ETag}

	blob, release, err := f.blobs.Acquire(key, md, id)
	if err != nil {
		return nil, err
	}
	s := newStream(id, uri, blob, release)
	s.stale = func() {
		f.metadata.Evict(uri)
		f.logger.Debug("object version gone, metadata evicted", "uri", uri.String(), "etag", md.ETag)
	}

	logical := f.cfg.LogicalIO
	if logical.FooterPrefetchEnabled && parquet.IsParquet(logical, uri.Key) {
		tail, err := parquet.PrefetchTail(ctx, blob, logical, md.ContentLength)
		if err != nil {
			// Reads still work; only the footer prefetch is lost.
			f.logger.Debug("tail prefetch failed", "uri", uri.String(), "error", err)
		}
		s.tail = tail
	}

	f.logger.Debug("stream opened", "uri", uri.String(), "stream_id", id, "content_length", md.ContentLength)
	return s, nil
}

// Stats reports how many objects the factory is tracking, and the state of
// the worker pool and cache when caching is on.
func (f *Factory) Stats() Stats {
	s := Stats{Metadata: f.metadata.Len(), Blobs: f.blobs.Len()}
	if f.pool != nil {
		ps := f.pool.Stats()
		s.Pool = &ps
	}
	if f.cache != nil {
		cs := cache.Describe(f.cache)
		s.Cache = &cs
	}
	return s
}

// Stats is a snapshot of factory state.
type Stats struct {
	Metadata int            `json:"metadata"`
	Blobs    int            `json:"blobs"`
	Pool     *workers.Stats `json:"pool,omitempty"`
	Cache    *cache.Status  `json:"cache,omitempty"`
}

// Close closes every blob, stops the pool, flushes the external cache when
// configured to, and closes it. Streams still open fail afterwards.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	var errs []error
	if err := f.blobs.Close(); err != nil {
		errs = append(errs, err)
	}
	f.metadata.Close()
	if f.pool != nil {
		f.pool.Stop()
	}

	if f.cache != nil {
		if f.cfg.PhysicalIO.EnableCacheFlush {
			start := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			err := f.cache.Flush(ctx)
			cancel()
			if err != nil {
				errs = append(errs, err)
			} else {
				f.logger.Info("external cache flushed", "duration", time.Since(start))
			}
		}
		if err := f.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (f *Factory) checkOpen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.NewError(errors.ErrCodeComponentStopped, "stream factory is closed").
			WithComponent("stream-factory").
			WithOperation("create_stream")
	}
	return nil
}

package cache

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
)

// commands is the subset of *redis.ClusterClient the cache uses.
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// ValkeyCache stores ranges in a Valkey (or Redis) cluster.
type ValkeyCache struct {
	cmds   commands
	flush  func(ctx context.Context) error
	ttl    time.Duration
	logger *slog.Logger
}

// NewValkey connects a cluster client to endpoint. Connections are dialled
// lazily, so an unreachable cluster surfaces on the first command.
func NewValkey(endpoint string, cfg config.CacheConfig, logger *slog.Logger) (*ValkeyCache, error) {
	if endpoint == "" {
		return nil, errors.InvalidInput("cache.new", "cache endpoint is empty").WithComponent(component)
	}
	if logger == nil {
		logger = slog.Default()
	}

	addr := endpoint
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		addr = net.JoinHostPort(endpoint, strconv.Itoa(cfg.Port))
	}

	opts := &redis.ClusterOptions{
		Addrs:        []string{addr},
		MaxRetries:   maxRetries(cfg.MaxAttempts),
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}
	if cfg.TLS {
		host, _, _ := net.SplitHostPort(addr)
		opts.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClusterClient(opts)
	logger.Info("external cache client created", "addr", addr, "tls", cfg.TLS, "pool_size", cfg.PoolSize)

	flush := func(ctx context.Context) error {
		return client.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return node.FlushAll(ctx).Err()
		})
	}
	return newValkeyCache(client, flush, cfg.TTL, logger), nil
}

// maxRetries converts an attempt budget into go-redis terms, where zero
// means "library default" and -1 disables retries.
func maxRetries(attempts int) int {
	if attempts <= 1 {
		return -1
	}
	return attempts - 1
}

func newValkeyCache(cmds commands, flush func(context.Context) error, ttl time.Duration, logger *slog.Logger) *ValkeyCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValkeyCache{cmds: cmds, flush: flush, ttl: ttl, logger: logger}
}

// Get returns the stored value; redis.Nil is a miss.
func (v *ValkeyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := v.cmds.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		return data, true, nil
	case stderrors.Is(err, redis.Nil):
		return nil, false, nil
	default:
		return nil, false, translate(ctx, err, "cache.get")
	}
}

// Set stores value with the configured expiry. Zero TTL keeps it forever.
func (v *ValkeyCache) Set(ctx context.Context, key string, value []byte) error {
	if err := v.cmds.Set(ctx, key, value, v.ttl).Err(); err != nil {
		return translate(ctx, err, "cache.set")
	}
	return nil
}

// Flush removes every key on every primary.
func (v *ValkeyCache) Flush(ctx context.Context) error {
	if v.flush == nil {
		return nil
	}
	if err := v.flush(ctx); err != nil {
		return translate(ctx, err, "cache.flush")
	}
	v.logger.Info("external cache flushed")
	return nil
}

// Close closes the client and its connection pools.
func (v *ValkeyCache) Close() error {
	if err := v.cmds.Close(); err != nil && !stderrors.Is(err, redis.ErrClosed) {
		return translate(context.Background(), err, "cache.close")
	}
	return nil
}

func translate(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.FromContext(ctxErr, op).WithComponent(component)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.FromContext(err, op).WithComponent(component)
	}
	if stderrors.Is(err, redis.ErrClosed) {
		return errClosed(op)
	}
	return errors.NewError(errors.ErrCodeCacheError, "external cache request failed").
		WithComponent(component).
		WithOperation(op).
		WithCause(err)
}

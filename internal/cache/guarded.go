package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/objectfs/accelerator/internal/circuit"
	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

const component = "cache"

// Guarded bounds every call on an inner cache with a timeout and a circuit
// breaker. While the breaker is open, Get reports a miss and Set fails fast,
// so readers go straight to the object store.
type Guarded struct {
	inner   types.Cache
	breaker *circuit.CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger

	rejected atomic.Uint64
}

// NewGuarded wraps inner. A zero timeout leaves calls bounded only by the
// caller's context.
func NewGuarded(inner types.Cache, breaker *circuit.CircuitBreaker, timeout time.Duration, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{inner: inner, breaker: breaker, timeout: timeout, logger: logger}
}

// Get looks key up through the breaker.
func (g *Guarded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		data []byte
		ok   bool
	)
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		data, ok, err = g.inner.Get(ctx, key)
		return err
	})
	if circuit.IsRejection(err) {
		g.rejected.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, ok, nil
}

// Set stores value through the breaker.
func (g *Guarded) Set(ctx context.Context, key string, value []byte) error {
	err := g.call(ctx, func(ctx context.Context) error {
		return g.inner.Set(ctx, key, value)
	})
	if circuit.IsRejection(err) {
		g.rejected.Add(1)
	}
	return err
}

// Flush bypasses the breaker; it runs once at shutdown.
func (g *Guarded) Flush(ctx context.Context) error {
	return g.inner.Flush(ctx)
}

// Close closes the inner cache.
func (g *Guarded) Close() error {
	return g.inner.Close()
}

// Rejected counts calls short-circuited by the open breaker.
func (g *Guarded) Rejected() uint64 {
	return g.rejected.Load()
}

// State reports the breaker state.
func (g *Guarded) State() circuit.State {
	return g.breaker.GetState()
}

func (g *Guarded) call(ctx context.Context, fn func(context.Context) error) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return fn(ctx)
	})
}

// New builds the cache selected by cfg.Backend for endpoint, wrapped in a
// breaker when one is configured. The caller owns and closes the result.
func New(endpoint string, cfg config.CacheConfig, logger *slog.Logger) (types.Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var inner types.Cache
	switch cfg.Backend {
	case "memory":
		inner = NewLRU(LRUConfig{MaxSize: cfg.MemoryMaxSize.Int64(), TTL: cfg.TTL})
		logger.Info("in-process cache created", "max_size", cfg.MemoryMaxSize.String())
	case "valkey", "":
		v, err := NewValkey(endpoint, cfg, logger)
		if err != nil {
			return nil, err
		}
		inner = v
	default:
		return nil, errors.InvalidInput("cache.new", "unknown cache backend %q", cfg.Backend).WithComponent(component)
	}

	if !cfg.CircuitBreaker.Enabled {
		return inner, nil
	}
	breaker := circuit.FromConfig(component, cfg.CircuitBreaker, logger)
	return NewGuarded(inner, breaker, cfg.RequestTimeout, logger), nil
}

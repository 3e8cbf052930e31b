package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
)

type fakeCommands struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	closeFn func() error
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCommands) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeCommands) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = append([]byte(nil), value.([]byte)...)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCommands) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func TestValkeyCache_GetSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cmds := newFakeCommands()
	v := newValkeyCache(cmds, nil, time.Hour, nil)

	require.NoError(t, v.Set(ctx, "s3://b/k#e#0-3", []byte("PAR1")))
	assert.Equal(t, time.Hour, cmds.ttls["s3://b/k#e#0-3"])

	got, ok, err := v.Get(ctx, "s3://b/k#e#0-3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("PAR1"), got)

	got, ok, err = v.Get(ctx, "s3://b/k#e#4-7")
	require.NoError(t, err, "redis.Nil is a miss, not an error")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestValkeyCache_Errors(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want errors.ErrorCode
	}{
		{"server error", context.Background(), fmt.Errorf("CLUSTERDOWN"), errors.ErrCodeCacheError},
		{"client closed", context.Background(), redis.ErrClosed, errors.ErrCodeComponentStopped},
		{"deadline", context.Background(), context.DeadlineExceeded, errors.ErrCodeOperationTimeout},
		{"caller canceled", canceled, fmt.Errorf("i/o"), errors.ErrCodeOperationCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmds := newFakeCommands()
			cmds.getErr = tt.err
			cmds.setErr = tt.err
			v := newValkeyCache(cmds, nil, 0, nil)

			_, ok, err := v.Get(tt.ctx, "k")
			assert.False(t, ok)
			assert.True(t, errors.IsCode(err, tt.want), "get: %v", err)

			err = v.Set(tt.ctx, "k", []byte("v"))
			assert.True(t, errors.IsCode(err, tt.want), "set: %v", err)
		})
	}
}

func TestValkeyCache_FlushAndClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	flushed := 0
	cmds := newFakeCommands()
	v := newValkeyCache(cmds, func(context.Context) error { flushed++; return nil }, 0, nil)

	require.NoError(t, v.Flush(ctx))
	assert.Equal(t, 1, flushed)

	v.flush = func(context.Context) error { return fmt.Errorf("READONLY") }
	assert.True(t, errors.IsCode(v.Flush(ctx), errors.ErrCodeCacheError))

	cmds.closeFn = func() error { return redis.ErrClosed }
	assert.NoError(t, v.Close(), "closing twice is not an error")

	cmds.closeFn = func() error { return fmt.Errorf("boom") }
	assert.True(t, errors.IsCode(v.Close(), errors.ErrCodeCacheError))
}

func TestMaxRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempts int
		want     int
	}{
		{0, -1},
		{1, -1},
		{2, 1},
		{5, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maxRetries(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestNewValkey(t *testing.T) {
	t.Parallel()

	_, err := NewValkey("", config.CacheConfig{}, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))

	cfg := config.NewDefault().Cache
	v, err := NewValkey("127.0.0.1", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.TTL, v.ttl)
	require.NoError(t, v.Close())
}

package physical

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

func TestBlock_Reads(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient("test-data")
	b := newTestBlock(t, client, 0, 8)

	got, err := b.ReadByte(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(116), got)

	got, err = b.ReadByte(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, byte(97), got)

	buf := make([]byte, 4)
	n, err := b.Read(ctx, buf, 0, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "data", string(buf))

	// Copy is bounded by the room left in buf.
	buf = make([]byte, 6)
	n, err = b.Read(ctx, buf, 2, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "test", string(buf[2:]))

	// And by the end of the block.
	buf = make([]byte, 10)
	n, err = b.Read(ctx, buf, 0, 10, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ta", string(buf[:n]))

	assert.Equal(t, BlockReady, b.State())
	assert.Equal(t, 1, client.calls())
}

func TestNewBlock_InvalidSpec(t *testing.T) {
	client := newFakeClient("test-data")

	tests := []struct {
		name   string
		desc   BlockSpec
		client types.ObjectClient
		code   errors.ErrorCode
	}{
		{
			name:   "negative start",
			desc:   BlockSpec{Key: testKey, Range: types.Range{Start: -1, End: 5}},
			client: client,
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name:   "end before start",
			desc:   BlockSpec{Key: testKey, Range: types.Range{Start: 5, End: 4}},
			client: client,
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name:   "negative generation",
			desc:   BlockSpec{Key: testKey, Range: types.Range{Start: 0, End: 4}, Generation: -1},
			client: client,
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name: "missing client",
			desc: BlockSpec{Key: testKey, Range: types.Range{Start: 0, End: 4}},
			code: errors.ErrCodeValidationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBlock(tt.desc, tt.client, testConfig(), nil)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}

	cfg := testConfig()
	cfg.BlockReadRetryCount = 0
	_, err := NewBlock(BlockSpec{Key: testKey, Range: types.Range{Start: 0, End: 4}}, client, cfg, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	assert.Equal(t, 0, client.calls(), "rejected blocks must not fetch")
}

func TestBlock_InvalidReads(t *testing.T) {
	ctx := context.Background()
	b := newTestBlock(t, newFakeClient("test-data"), 0, 8)
	buf := make([]byte, 4)

	tests := []struct {
		name string
		read func() error
	}{
		{"negative byte position", func() error { _, err := b.ReadByte(ctx, -10); return err }},
		{"byte past block", func() error { _, err := b.ReadByte(ctx, 9); return err }},
		{"negative position", func() error { _, err := b.Read(ctx, buf, 0, 1, -5); return err }},
		{"negative offset", func() error { _, err := b.Read(ctx, buf, -5, 3, 1); return err }},
		{"negative length", func() error { _, err := b.Read(ctx, buf, 0, -5, 1); return err }},
		{"offset beyond buffer", func() error { _, err := b.Read(ctx, buf, 10, 3, 1); return err }},
		{"position past block", func() error { _, err := b.Read(ctx, buf, 0, 1, 20); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read()
			assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed), "got %v", err)
		})
	}
}

func TestBlock_RetryThenSucceed(t *testing.T) {
	client := newFakeClient("test-data")
	client.failFirst = 2
	telemetry := &recordingTelemetry{}

	b, err := NewBlock(BlockSpec{Key: testKey, Range: types.Range{Start: 0, End: 8}},
		client, testConfig(), &Shared{Telemetry: telemetry})
	require.NoError(t, err)
	defer b.Close()

	buf := make([]byte, 9)
	n, err := b.Read(context.Background(), buf, 0, 9, 0)
	require.NoError(t, err)
	assert.Equal(t, "test-data", string(buf[:n]))
	assert.Equal(t, 3, client.calls())

	_, _, retries, _ := telemetry.snapshot()
	assert.Equal(t, 2, retries)
}

func TestBlock_RetriesExhausted(t *testing.T) {
	client := newFakeClient("test-data")
	client.failFirst = 3

	b := newTestBlock(t, client, 0, 8)
	_, err := b.ReadByte(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFetchFailed))
	assert.True(t, errors.IsCode(err, errors.ErrCodeRetryExhausted))
	assert.True(t, errors.IsCode(err, errors.ErrCodeNetworkError))
	assert.Equal(t, 3, client.calls())
	assert.Equal(t, BlockFailed, b.State())

	// The failure is terminal for the block.
	_, err = b.ReadByte(context.Background(), 1)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFetchFailed))
	assert.Equal(t, 3, client.calls())
}

func TestBlock_PermanentFailureNotRetried(t *testing.T) {
	for _, code := range []errors.ErrorCode{errors.ErrCodeObjectNotFound, errors.ErrCodeAccessDenied} {
		t.Run(string(code), func(t *testing.T) {
			client := newFakeClient("test-data")
			client.failFirst = 10
			client.failErr = errors.NewError(code, "object store refused")

			b := newTestBlock(t, client, 0, 8)
			_, err := b.ReadByte(context.Background(), 0)
			assert.True(t, errors.IsCode(err, errors.ErrCodeFetchFailed))
			assert.True(t, errors.IsCode(err, code))
			assert.Equal(t, 1, client.calls())
		})
	}
}

func TestBlock_AttemptTimeout(t *testing.T) {
	client := newFakeClient("test-data")
	client.hang = true

	cfg := testConfig()
	cfg.BlockReadTimeout = 20 * time.Millisecond
	cfg.BlockReadRetryCount = 2

	b, err := NewBlock(BlockSpec{Key: testKey, Range: types.Range{Start: 0, End: 8}}, client, cfg, nil)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ReadByte(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFetchFailed))
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationTimeout))
	assert.Equal(t, 2, client.calls())
}

func TestBlock_CloseUnblocksReaders(t *testing.T) {
	client := newFakeClient("test-data")
	client.hang = true
	b := newTestBlock(t, client, 0, 8)

	result := make(chan error, 1)
	go func() {
		_, err := b.ReadByte(context.Background(), 0)
		result <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()
	b.Close()

	select {
	case err := <-result:
		assert.True(t, errors.IsCode(err, errors.ErrCodeOperationCanceled), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not released by Close")
	}
	assert.Equal(t, BlockClosed, b.State())
	waitDone(t, b)
	assert.Equal(t, BlockClosed, b.State(), "late fetch completion must not reopen the block")
}

func TestBlock_CallerContext(t *testing.T) {
	client := newFakeClient("test-data")
	client.hang = true
	b := newTestBlock(t, client, 0, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.ReadByte(ctx, 0)
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationTimeout), "got %v", err)
	assert.Equal(t, BlockFetching, b.State())
}

func TestBlock_RequestCarriesIdentity(t *testing.T) {
	client := newFakeClient("test-data")
	b, err := NewBlock(BlockSpec{
		Key:      testKey,
		Range:    types.Range{Start: 2, End: 6},
		Mode:     types.ReadModeAsync,
		StreamID: "stream-1",
	}, client, testConfig(), nil)
	require.NoError(t, err)
	defer b.Close()
	waitDone(t, b)

	req := client.lastRequest()
	assert.Equal(t, testKey.URI, req.URI)
	assert.Equal(t, "etag-1", req.ETag)
	assert.Equal(t, types.Range{Start: 2, End: 6}, req.Range)
	assert.Equal(t, types.ReadModeAsync, req.Referrer.Mode)
	assert.Equal(t, "stream-1", req.Referrer.StreamID)
}

func TestBlock_Cache(t *testing.T) {
	footer := types.Range{Start: 0, End: 8, Type: types.RangeTypeFooterMetadata}

	t.Run("hit skips object store", func(t *testing.T) {
		client := newFakeClient("test-data")
		cache := newFakeCache()
		cache.entries[CacheKey(testKey, footer)] = []byte("cachedval")
		telemetry := &recordingTelemetry{}

		b, err := NewBlock(BlockSpec{Key: testKey, Range: footer}, client, cachingConfig(),
			&Shared{Cache: cache, Telemetry: telemetry})
		require.NoError(t, err)
		defer b.Close()

		buf := make([]byte, 9)
		n, err := b.Read(context.Background(), buf, 0, 9, 0)
		require.NoError(t, err)
		assert.Equal(t, "cachedval", string(buf[:n]))
		assert.Equal(t, 0, client.calls())

		sources, lookups, _, _ := telemetry.snapshot()
		assert.Equal(t, []string{SourceCache}, sources)
		assert.Equal(t, []string{CacheHit}, lookups)
	})

	t.Run("miss populates cache", func(t *testing.T) {
		client := newFakeClient("test-data")
		cache := newFakeCache()

		b, err := NewBlock(BlockSpec{Key: testKey, Range: footer}, client, cachingConfig(), &Shared{Cache: cache})
		require.NoError(t, err)
		defer b.Close()

		_, err = b.ReadByte(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, 1, client.calls())
		assert.True(t, cache.has(CacheKey(testKey, footer)))
	})

	t.Run("wrong length entry ignored", func(t *testing.T) {
		client := newFakeClient("test-data")
		cache := newFakeCache()
		cache.entries[CacheKey(testKey, footer)] = []byte("short")

		b, err := NewBlock(BlockSpec{Key: testKey, Range: footer}, client, cachingConfig(), &Shared{Cache: cache})
		require.NoError(t, err)
		defer b.Close()

		got, err := b.ReadByte(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, byte('t'), got)
		assert.Equal(t, 1, client.calls())
	})

	t.Run("cache failures fall back to store", func(t *testing.T) {
		client := newFakeClient("test-data")
		cache := newFakeCache()
		cache.getErr = fmt.Errorf("connection refused")
		cache.setErr = fmt.Errorf("connection refused")

		b, err := NewBlock(BlockSpec{Key: testKey, Range: footer}, client, cachingConfig(), &Shared{Cache: cache})
		require.NoError(t, err)
		defer b.Close()

		got, err := b.ReadByte(context.Background(), 4)
		require.NoError(t, err)
		assert.Equal(t, byte('-'), got)
		assert.Equal(t, BlockReady, b.State())
	})

	t.Run("plain blocks bypass cache", func(t *testing.T) {
		client := newFakeClient("test-data")
		cache := newFakeCache()

		b, err := NewBlock(BlockSpec{Key: testKey, Range: types.Range{Start: 0, End: 8}}, client,
			cachingConfig(), &Shared{Cache: cache})
		require.NoError(t, err)
		defer b.Close()

		_, err = b.ReadByte(context.Background(), 0)
		require.NoError(t, err)
		gets, sets := cache.counts()
		assert.Zero(t, gets)
		assert.Zero(t, sets)
	})

	t.Run("disabled caching bypasses cache", func(t *testing.T) {
		client := newFakeClient("test-data")
		cache := newFakeCache()

		b, err := NewBlock(BlockSpec{Key: testKey, Range: footer}, client, testConfig(), &Shared{Cache: cache})
		require.NoError(t, err)
		defer b.Close()

		_, err = b.ReadByte(context.Background(), 0)
		require.NoError(t, err)
		gets, sets := cache.counts()
		assert.Zero(t, gets)
		assert.Zero(t, sets)
	})
}

func TestBlock_Scheduling(t *testing.T) {
	rng := types.Range{Start: 0, End: 8}

	t.Run("pool used when caching", func(t *testing.T) {
		sched := &fakeScheduler{}
		b, err := NewBlock(BlockSpec{Key: testKey, Range: rng}, newFakeClient("test-data"), cachingConfig(),
			&Shared{Pool: sched})
		require.NoError(t, err)
		defer b.Close()

		_, err = b.ReadByte(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, 1, sched.count())
	})

	t.Run("goroutine used otherwise", func(t *testing.T) {
		sched := &fakeScheduler{}
		b, err := NewBlock(BlockSpec{Key: testKey, Range: rng}, newFakeClient("test-data"), testConfig(),
			&Shared{Pool: sched})
		require.NoError(t, err)
		defer b.Close()

		_, err = b.ReadByte(context.Background(), 0)
		require.NoError(t, err)
		assert.Zero(t, sched.count())
	})

	t.Run("submit failure reported", func(t *testing.T) {
		client := newFakeClient("test-data")
		sched := &fakeScheduler{err: fmt.Errorf("queue full")}
		_, err := NewBlock(BlockSpec{Key: testKey, Range: rng}, client, cachingConfig(), &Shared{Pool: sched})
		assert.True(t, errors.IsCode(err, errors.ErrCodeInitializationFailed))
		assert.Zero(t, client.calls())
	})

	t.Run("saturated pool falls back to goroutine", func(t *testing.T) {
		sched := &fakeScheduler{err: errors.NewError(errors.ErrCodeWorkerBusy, "worker queue is full")}
		b, err := NewBlock(BlockSpec{Key: testKey, Range: rng}, newFakeClient("test-data"), cachingConfig(),
			&Shared{Pool: sched})
		require.NoError(t, err)
		defer b.Close()

		got, err := b.ReadByte(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, byte('t'), got)
		assert.Zero(t, sched.count())
	})
}

func TestCacheKey(t *testing.T) {
	key := CacheKey(testKey, types.Range{Start: 10, End: 19, Type: types.RangeTypeFooterIndex})
	assert.Equal(t, "s3://bucket/data/file.parquet#etag-1#10-19", key)
}

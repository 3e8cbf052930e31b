package physical

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/types"
)

var testKey = types.ObjectKey{
	URI:  types.S3URI{Bucket: "bucket", Key: "data/file.parquet"},
	ETag: "etag-1",
}

// fakeClient serves ranges of data and records every request.
type fakeClient struct {
	mu       sync.Mutex
	data     []byte
	requests []types.GetRequest

	// failFirst makes the first N calls fail with failErr.
	failFirst int
	failErr   error
	// hang makes calls block until their context ends.
	hang bool
	// getFn, when set, replaces the default behavior.
	getFn func(ctx context.Context, req types.GetRequest) (io.ReadCloser, error)
}

func newFakeClient(data string) *fakeClient {
	return &fakeClient{data: []byte(data)}
}

func (c *fakeClient) HeadObject(context.Context, types.HeadRequest) (types.ObjectMetadata, error) {
	return types.ObjectMetadata{ContentLength: int64(len(c.data)), ETag: testKey.ETag}, nil
}

func (c *fakeClient) GetObject(ctx context.Context, req types.GetRequest) (io.ReadCloser, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	c.mu.Unlock()

	if c.getFn != nil {
		return c.getFn(ctx, req)
	}
	if c.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= c.failFirst {
		if c.failErr != nil {
			return nil, c.failErr
		}
		return nil, fmt.Errorf("transient failure %d", n)
	}
	return c.serve(req)
}

func (c *fakeClient) serve(req types.GetRequest) (io.ReadCloser, error) {
	end := min(req.Range.End, int64(len(c.data))-1)
	return io.NopCloser(bytes.NewReader(c.data[req.Range.Start : end+1])), nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeClient) lastRequest() types.GetRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

// fakeCache is an in-memory types.Cache with injectable failures.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	sets    int
	getErr  error
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = append([]byte(nil), value...)
	return nil
}

func (c *fakeCache) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	return nil
}

func (c *fakeCache) Close() error { return nil }

func (c *fakeCache) counts() (gets, sets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets, c.sets
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// fakeScheduler runs tasks on goroutines and counts submissions. Once
// failAfter tasks have been accepted, every further Submit returns err.
type fakeScheduler struct {
	mu        sync.Mutex
	submitted int
	failAfter int
	err       error
}

func (s *fakeScheduler) Submit(_ context.Context, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && s.submitted >= s.failAfter {
		return s.err
	}
	s.submitted++
	go task()
	return nil
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

func testConfig() config.PhysicalIOConfig {
	cfg := config.DefaultPhysicalIO()
	cfg.BlockReadTimeout = 2 * time.Second
	cfg.BlockReadRetryCount = 3
	return cfg
}

func cachingConfig() config.PhysicalIOConfig {
	cfg := testConfig()
	cfg.EnableTailMetadataCaching = true
	cfg.CacheEndpoint = "cache.test"
	return cfg
}

func metadataFor(data string) types.ObjectMetadata {
	return types.ObjectMetadata{ContentLength: int64(len(data)), ETag: testKey.ETag}
}

func newTestBlock(t *testing.T, client types.ObjectClient, start, end int64) *Block {
	t.Helper()
	b, err := NewBlock(BlockSpec{
		Key:   testKey,
		Range: types.Range{Start: start, End: end},
	}, client, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewBlock(%d, %d): %v", start, end, err)
	}
	t.Cleanup(b.Close)
	return b
}

func waitDone(t *testing.T, b *Block) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("block %s did not resolve", b.Range())
	}
}

// recordingTelemetry keeps the events it receives.
type recordingTelemetry struct {
	mu      sync.Mutex
	sources []string
	lookups []string
	retries int
	plans   []types.IOPlanState
}

func (r *recordingTelemetry) BlockCreated(types.RangeType, types.ReadMode, int64) {}

func (r *recordingTelemetry) BlockFetched(_ types.RangeType, source string, _ int, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
}

func (r *recordingTelemetry) FetchRetried(types.RangeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *recordingTelemetry) CacheLookup(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, outcome)
}

func (r *recordingTelemetry) CacheWriteFailed() {}

func (r *recordingTelemetry) PlanExecuted(state types.IOPlanState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, state)
}

func (r *recordingTelemetry) snapshot() (sources, lookups []string, retries int, plans []types.IOPlanState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...), append([]string(nil), r.lookups...), r.retries,
		append([]types.IOPlanState(nil), r.plans...)
}

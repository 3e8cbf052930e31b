package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// fakeClient serves in-memory objects and counts requests.
type fakeClient struct {
	mu      sync.Mutex
	objects map[types.S3URI][]byte
	heads   int
	gets    []types.GetRequest

	// headGate, when set, blocks HEAD until it is closed.
	headGate chan struct{}
	headErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[types.S3URI][]byte)}
}

func (c *fakeClient) put(uri types.S3URI, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[uri] = []byte(data)
}

func (c *fakeClient) remove(uri types.S3URI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, uri)
}

func (c *fakeClient) HeadObject(ctx context.Context, req types.HeadRequest) (types.ObjectMetadata, error) {
	c.mu.Lock()
	c.heads++
	gate := c.headGate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.ObjectMetadata{}, ctx.Err()
		}
	}
	if c.headErr != nil {
		return types.ObjectMetadata{}, c.headErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[req.URI]
	if !ok {
		return types.ObjectMetadata{}, errors.NewError(errors.ErrCodeObjectNotFound, "no such key")
	}
	return types.ObjectMetadata{ContentLength: int64(len(data)), ETag: etagOf(req.URI)}, nil
}

func (c *fakeClient) GetObject(_ context.Context, req types.GetRequest) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gets = append(c.gets, req)
	data, ok := c.objects[req.URI]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeObjectNotFound, "no such key")
	}
	end := min(req.Range.End, int64(len(data))-1)
	return io.NopCloser(bytes.NewReader(data[req.Range.Start : end+1])), nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) headCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heads
}

func (c *fakeClient) getRequests() []types.GetRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.GetRequest(nil), c.gets...)
}

func etagOf(uri types.S3URI) string {
	return fmt.Sprintf("etag-%s", uri.Key)
}

func testURI(key string) types.S3URI {
	return types.S3URI{Bucket: "bucket", Key: key}
}

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.PhysicalIO.BlockSize = 16
	cfg.PhysicalIO.ReadAhead = 8
	cfg.PhysicalIO.MaxRangeSize = 64
	cfg.PhysicalIO.PartSize = 64
	cfg.PhysicalIO.BlockReadTimeout = 2 * time.Second
	cfg.PhysicalIO.BlockReadRetryCount = 2
	cfg.LogicalIO.FooterCachingSize = 8
	cfg.LogicalIO.SmallObjectSizeThreshold = 32
	return cfg
}

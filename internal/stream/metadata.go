package stream

import (
	"container/list"
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// MetadataStore caches object metadata by URI in a bounded LRU. Concurrent
// misses for one URI share a single HEAD request.
type MetadataStore struct {
	client   types.ObjectClient
	capacity int
	logger   *slog.Logger
	group    singleflight.Group

	mu      sync.Mutex
	entries map[types.S3URI]*list.Element
	order   *list.List
}

type metadataEntry struct {
	uri      types.S3URI
	metadata types.ObjectMetadata
}

// NewMetadataStore creates a store holding at most capacity entries.
func NewMetadataStore(client types.ObjectClient, capacity int, logger *slog.Logger) *MetadataStore {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataStore{
		client:   client,
		capacity: capacity,
		logger:   logger.With("component", "metadata-store"),
		entries:  make(map[types.S3URI]*list.Element),
		order:    list.New(),
	}
}

// Get returns the metadata of uri, issuing a HEAD on a miss. A caller whose
// ctx ends early gets its context error while the HEAD finishes for others.
func (s *MetadataStore) Get(ctx context.Context, uri types.S3URI) (types.ObjectMetadata, error) {
	if md, ok := s.lookup(uri); ok {
		return md, nil
	}

	ch := s.group.DoChan(uri.String(), func() (any, error) {
		md, err := s.client.HeadObject(context.WithoutCancel(ctx), types.HeadRequest{URI: uri})
		if err != nil {
			return nil, err
		}
		s.Store(uri, md)
		s.logger.Debug("object metadata fetched", "uri", uri.String(), "content_length", md.ContentLength)
		return md, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return types.ObjectMetadata{}, res.Err
		}
		return res.Val.(types.ObjectMetadata), nil
	case <-ctx.Done():
		return types.ObjectMetadata{}, errors.FromContext(ctx.Err(), "metadata.get")
	}
}

// Store records metadata supplied by the caller, skipping the HEAD.
func (s *MetadataStore) Store(uri types.S3URI, md types.ObjectMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[uri]; ok {
		elem.Value.(*metadataEntry).metadata = md
		s.order.MoveToFront(elem)
		return
	}
	s.entries[uri] = s.order.PushFront(&metadataEntry{uri: uri, metadata: md})
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*metadataEntry).uri)
	}
}

// Evict drops uri so the next Get re-reads it.
func (s *MetadataStore) Evict(uri types.S3URI) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[uri]; ok {
		s.order.Remove(elem)
		delete(s.entries, uri)
	}
}

// Len returns the number of cached entries.
func (s *MetadataStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Close drops every entry.
func (s *MetadataStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[types.S3URI]*list.Element)
	s.order.Init()
}

func (s *MetadataStore) lookup(uri types.S3URI) (types.ObjectMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[uri]
	if !ok {
		return types.ObjectMetadata{}, false
	}
	s.order.MoveToFront(elem)
	return elem.Value.(*metadataEntry).metadata, true
}

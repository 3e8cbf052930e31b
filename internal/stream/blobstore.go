package stream

import (
	"container/list"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/internal/physical"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// BlobStore shares one Blob per object version between the streams reading
// it. Blobs are reference counted: the LRU bound only evicts blobs no
// stream holds, so it may be exceeded while every blob is in use.
type BlobStore struct {
	client   types.ObjectClient
	cfg      config.PhysicalIOConfig
	shared   *physical.Shared
	capacity int
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[types.ObjectKey]*blobEntry
	order   *list.List
	closed  bool
}

type blobEntry struct {
	key  types.ObjectKey
	blob *physical.Blob
	refs int
	elem *list.Element
}

// NewBlobStore creates a store that keeps up to cfg.BlobStoreCapacity idle blobs.
func NewBlobStore(client types.ObjectClient, cfg config.PhysicalIOConfig, shared *physical.Shared, logger *slog.Logger) *BlobStore {
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.BlobStoreCapacity
	if capacity <= 0 {
		capacity = 1
	}
	return &BlobStore{
		client:   client,
		cfg:      cfg,
		shared:   shared,
		capacity: capacity,
		logger:   logger.With("component", "blob-store"),
		entries:  make(map[types.ObjectKey]*blobEntry),
		order:    list.New(),
	}
}

// Acquire returns the blob for key, creating it on first use, and a release
// func the caller must call exactly once when done with it.
func (s *BlobStore) Acquire(key types.ObjectKey, md types.ObjectMetadata, streamID string) (*physical.Blob, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, errors.NewError(errors.ErrCodeComponentStopped, "blob store is closed").
			WithComponent("blob-store").
			WithOperation("acquire")
	}

	entry, ok := s.entries[key]
	if ok {
		s.order.MoveToFront(entry.elem)
	} else {
		manager, err := physical.NewBlockManager(key, md, s.client, s.cfg, s.shared, streamID)
		if err != nil {
			return nil, nil, err
		}
		entry = &blobEntry{key: key, blob: physical.NewBlob(key, md, manager, s.shared)}
		entry.elem = s.order.PushFront(entry)
		s.entries[key] = entry
		s.logger.Debug("blob created", "uri", key.URI.String(), "etag", key.ETag)
	}
	entry.refs++
	s.evictIdleLocked()

	var once sync.Once
	release := func() {
		once.Do(func() { s.release(entry) })
	}
	return entry.blob, release, nil
}

// Len returns the number of blobs held, in use or idle.
func (s *BlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close closes every blob, including ones still referenced.
func (s *BlobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for key, entry := range s.entries {
		if err := entry.blob.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.entries, key)
	}
	s.order.Init()
	return stderrors.Join(errs...)
}

func (s *BlobStore) release(entry *blobEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.refs--
	if !s.closed {
		s.evictIdleLocked()
	}
}

// evictIdleLocked closes least recently used idle blobs until the store is
// within capacity or only referenced blobs remain.
func (s *BlobStore) evictIdleLocked() {
	for elem := s.order.Back(); elem != nil && len(s.entries) > s.capacity; {
		prev := elem.Prev()
		entry := elem.Value.(*blobEntry)
		if entry.refs == 0 {
			s.order.Remove(elem)
			delete(s.entries, entry.key)
			if err := entry.blob.Close(); err != nil {
				s.logger.Warn("failed to close evicted blob", "uri", entry.key.URI.String(), "error", err)
			}
		}
		elem = prev
	}
}

package physical

import (
	"sync"

	"github.com/google/btree"

	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

const blockStoreDegree = 16

// BlockStore is the ordered coverage index of one object. Blocks never
// overlap. They are removed by Close, or when a plan is rolled back before
// it completes.
type BlockStore struct {
	mu       sync.RWMutex
	tree     *btree.BTreeG[*Block]
	metadata types.ObjectMetadata
	closed   bool
}

// NewBlockStore creates an empty index for an object of the given size.
func NewBlockStore(metadata types.ObjectMetadata) *BlockStore {
	return &BlockStore{
		tree: btree.NewG[*Block](blockStoreDegree, func(a, b *Block) bool {
			return a.rng.Start < b.rng.Start
		}),
		metadata: metadata,
	}
}

func searchKey(pos int64) *Block {
	return &Block{rng: types.Range{Start: pos, End: pos}}
}

// GetBlock returns the block containing pos.
func (s *BlockStore) GetBlock(pos int64) (*Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBlockLocked(pos)
}

func (s *BlockStore) getBlockLocked(pos int64) (*Block, bool) {
	if pos < 0 {
		return nil, false
	}
	var found *Block
	s.tree.DescendLessOrEqual(searchKey(pos), func(b *Block) bool {
		if b.Contains(pos) {
			found = b
		}
		return false
	})
	return found, found != nil
}

// FindNextMissingByte returns the first position at or after pos that no
// block covers. It reports false when everything from pos to the last byte
// of the object is covered.
func (s *BlockStore) FindNextMissingByte(pos int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := max(pos, 0)
	for {
		b, ok := s.getBlockLocked(next)
		if !ok {
			break
		}
		next = b.rng.End + 1
	}
	if next <= s.metadata.LastByte() {
		return next, true
	}
	return 0, false
}

// FindNextLoadedByte returns the first position at or after pos that some
// block covers.
func (s *BlockStore) FindNextLoadedByte(pos int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.getBlockLocked(pos); ok {
		return pos, true
	}
	var next int64 = -1
	s.tree.AscendGreaterOrEqual(searchKey(pos), func(b *Block) bool {
		next = b.rng.Start
		return false
	})
	return next, next >= 0
}

// Add registers a block. Overlapping an existing block is an invariant
// violation and is rejected.
func (s *BlockStore) Add(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NewError(errors.ErrCodeComponentStopped, "block store is closed").
			WithComponent("blockstore").WithOperation("add")
	}

	var conflict *Block
	s.tree.DescendLessOrEqual(b, func(prev *Block) bool {
		if prev.rng.Overlaps(b.rng) {
			conflict = prev
		}
		return false
	})
	if conflict == nil {
		s.tree.AscendGreaterOrEqual(b, func(next *Block) bool {
			if next.rng.Overlaps(b.rng) {
				conflict = next
			}
			return false
		})
	}
	if conflict != nil {
		return errors.Newf(errors.ErrCodeInvalidState, "block %s overlaps resident block %s", b.rng, conflict.rng).
			WithComponent("blockstore").WithOperation("add")
	}

	s.tree.ReplaceOrInsert(b)
	return nil
}

// remove unregisters b if it is the block resident at its start.
func (s *BlockStore) remove(b *Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tree.Get(b); ok && cur == b {
		s.tree.Delete(b)
	}
}

// Len returns the number of registered blocks.
func (s *BlockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Blocks returns the registered blocks ordered by start.
func (s *BlockStore) Blocks() []*Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := make([]*Block, 0, s.tree.Len())
	s.tree.Ascend(func(b *Block) bool {
		blocks = append(blocks, b)
		return true
	})
	return blocks
}

// Close cancels every block and empties the index. It is idempotent.
func (s *BlockStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	blocks := make([]*Block, 0, s.tree.Len())
	s.tree.Ascend(func(b *Block) bool {
		blocks = append(blocks, b)
		return true
	})
	s.tree.Clear(false)
	s.mu.Unlock()

	for _, b := range blocks {
		b.Close()
	}
}

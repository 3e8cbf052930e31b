package physical

import (
	"log/slog"
	"sync"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// BlockManager decides which blocks to create for one object. Every
// operation runs under one mutex so concurrent callers never plan
// overlapping fetches.
type BlockManager struct {
	mu sync.Mutex

	key      types.ObjectKey
	metadata types.ObjectMetadata
	streamID string
	client   types.ObjectClient
	cfg      config.PhysicalIOConfig
	shared   *Shared
	logger   *slog.Logger

	store       *BlockStore
	planner     *IOPlanner
	optimiser   *RangeOptimiser
	detector    *SequentialPatternDetector
	progression *SequentialReadProgression

	closed bool
}

// NewBlockManager creates a manager for the object version identified by key.
func NewBlockManager(
	key types.ObjectKey,
	metadata types.ObjectMetadata,
	client types.ObjectClient,
	cfg config.PhysicalIOConfig,
	shared *Shared,
	streamID string,
) (*BlockManager, error) {
	if client == nil {
		return nil, errors.InvalidInput("new_block_manager", "object client is required")
	}
	if metadata.ContentLength < 0 {
		return nil, errors.InvalidInput("new_block_manager", "content length %d is negative", metadata.ContentLength)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := NewBlockStore(metadata)
	return &BlockManager{
		key:         key,
		metadata:    metadata,
		streamID:    streamID,
		client:      client,
		cfg:         cfg,
		shared:      shared,
		logger:      shared.logger().With("component", "block-manager", "uri", key.URI.String()),
		store:       store,
		planner:     NewIOPlanner(store),
		optimiser:   NewRangeOptimiser(cfg.MaxRangeSize.Int64(), cfg.PartSize.Int64()),
		detector:    NewSequentialPatternDetector(store),
		progression: NewSequentialReadProgression(cfg.BlockSize.Int64(), cfg.SequentialPrefetchBase, cfg.SequentialPrefetchSpeed),
	}, nil
}

// GetBlock returns the block containing pos.
func (m *BlockManager) GetBlock(pos int64) (*Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.GetBlock(pos)
}

// MakePositionAvailable ensures some block covers pos.
func (m *BlockManager) MakePositionAvailable(pos int64, mode types.ReadMode) error {
	if pos < 0 {
		return errors.InvalidInput("make_position_available", "position %d is negative", pos)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.store.GetBlock(pos); ok {
		return nil
	}
	return m.makeRangeAvailableLocked(pos, 1, types.RangeTypeBlock, mode)
}

// MakeRangeAvailable ensures blocks cover [pos, pos+length-1], widening the
// request by the configured read-ahead and, for synchronous sequential
// reads, by the prefetch progression. Bytes past the end of the object are
// never requested.
func (m *BlockManager) MakeRangeAvailable(pos, length int64, rangeType types.RangeType, mode types.ReadMode) error {
	if pos < 0 {
		return errors.InvalidInput("make_range_available", "position %d is negative", pos)
	}
	if length < 0 {
		return errors.InvalidInput("make_range_available", "length %d is negative", length)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.makeRangeAvailableLocked(pos, length, rangeType, mode)
}

func (m *BlockManager) makeRangeAvailableLocked(pos, length int64, rangeType types.RangeType, mode types.ReadMode) error {
	if m.closed {
		return errors.NewError(errors.ErrCodeComponentStopped, "block manager is closed").
			WithComponent("block-manager").WithOperation("make_range_available")
	}
	if m.isRangeAvailable(pos, length) {
		return nil
	}

	effectiveEnd := saturatingAdd(pos, max(length, m.cfg.ReadAhead.Int64())) - 1

	var generation int64
	if mode != types.ReadModeAsync && m.detector.IsSequentialRead(pos) {
		generation = m.detector.Generation(pos)
		window := m.progression.SizeForGeneration(generation)
		effectiveEnd = max(effectiveEnd, m.truncate(saturatingAdd(pos, window)-1))
	}

	missing, err := m.planner.PlanRead(pos, effectiveEnd, rangeType, m.metadata.LastByte())
	if err != nil {
		return err
	}

	return m.applyPlan(m.optimiser.SplitRanges(missing), generation, mode)
}

// applyPlan creates one block per range and registers them. Either every
// block is registered or none is: a failure closes what was created and
// unregisters what was added.
func (m *BlockManager) applyPlan(ranges []types.Range, generation int64, mode types.ReadMode) error {
	blocks := make([]*Block, 0, len(ranges))
	rollback := func(added int) {
		for _, b := range blocks[:added] {
			m.store.remove(b)
		}
		for _, b := range blocks {
			b.Close()
		}
	}

	for _, r := range ranges {
		block, err := NewBlock(BlockSpec{
			Key:        m.key,
			Range:      r,
			Generation: generation,
			Mode:       mode,
			StreamID:   m.streamID,
		}, m.client, m.cfg, m.shared)
		if err != nil {
			rollback(0)
			return err
		}
		blocks = append(blocks, block)
	}

	for i, b := range blocks {
		if err := m.store.Add(b); err != nil {
			rollback(i)
			return err
		}
	}

	for _, b := range blocks {
		m.logger.Debug("created block",
			"range", b.rng.String(),
			"type", b.rng.Type.String(),
			"generation", generation,
			"mode", mode.String(),
		)
	}
	return nil
}

// isRangeAvailable reports whether every byte of [pos, pos+length-1] that
// exists in the object is already covered.
func (m *BlockManager) isRangeAvailable(pos, length int64) bool {
	lastByte := min(saturatingAdd(pos, length)-1, m.metadata.LastByte())
	next, ok := m.store.FindNextMissingByte(pos)
	return !ok || lastByte < next
}

func (m *BlockManager) truncate(pos int64) int64 {
	return min(pos, m.metadata.LastByte())
}

// Store exposes the coverage index for inspection.
func (m *BlockManager) Store() *BlockStore {
	return m.store
}

// Close cancels every block. It does not touch the shared cache or pool.
func (m *BlockManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.store.Close()
	return nil
}

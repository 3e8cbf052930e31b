package physical

import (
	"github.com/objectfs/accelerator/pkg/errors"
	"github.com/objectfs/accelerator/pkg/types"
)

// IOPlanner computes which parts of a target interval still need fetching.
type IOPlanner struct {
	store *BlockStore
}

// NewIOPlanner creates a planner over store.
func NewIOPlanner(store *BlockStore) *IOPlanner {
	return &IOPlanner{store: store}
}

// PlanRead returns the maximal uncovered runs of [pos, end], clipped to
// lastObjectByte, in ascending order and tagged with rangeType. The result
// is empty when the interval is already covered.
func (p *IOPlanner) PlanRead(pos, end int64, rangeType types.RangeType, lastObjectByte int64) ([]types.Range, error) {
	if pos < 0 {
		return nil, errors.InvalidInput("plan", "position %d is negative", pos)
	}
	if end < pos {
		return nil, errors.InvalidInput("plan", "end %d precedes position %d", end, pos)
	}

	limit := min(end, lastObjectByte)
	var missing []types.Range

	next, ok := p.store.FindNextMissingByte(pos)
	for ok && next <= limit {
		runEnd := limit
		if loaded, found := p.store.FindNextLoadedByte(next); found && loaded-1 < runEnd {
			runEnd = loaded - 1
		}
		missing = append(missing, types.Range{Start: next, End: runEnd, Type: rangeType})
		next, ok = p.store.FindNextMissingByte(runEnd + 1)
	}
	return missing, nil
}

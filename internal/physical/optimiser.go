package physical

import "github.com/objectfs/accelerator/pkg/types"

// RangeOptimiser bounds the size of individual fetches.
type RangeOptimiser struct {
	maxRangeSize int64
	partSize     int64
}

// NewRangeOptimiser creates an optimiser. Non-positive values fall back to
// each other, and to a single part of unlimited size if both are unset.
func NewRangeOptimiser(maxRangeSize, partSize int64) *RangeOptimiser {
	if maxRangeSize <= 0 {
		maxRangeSize = partSize
	}
	if partSize <= 0 {
		partSize = maxRangeSize
	}
	return &RangeOptimiser{maxRangeSize: maxRangeSize, partSize: partSize}
}

// SplitRanges leaves ranges within the maximum untouched and cuts longer ones
// into chunks of at most min(partSize, maxRangeSize) bytes whose boundaries
// fall on multiples of the chunk size. Coverage and type are preserved.
func (o *RangeOptimiser) SplitRanges(ranges []types.Range) []types.Range {
	if o.maxRangeSize <= 0 {
		return ranges
	}
	split := make([]types.Range, 0, len(ranges))
	for _, r := range ranges {
		if r.Length() <= o.maxRangeSize {
			split = append(split, r)
			continue
		}
		split = append(split, o.splitRange(r)...)
	}
	return split
}

func (o *RangeOptimiser) splitRange(r types.Range) []types.Range {
	chunk := min(o.partSize, o.maxRangeSize)
	parts := make([]types.Range, 0, r.Length()/chunk+2)

	for start := r.Start; start <= r.End; {
		end := min((start/chunk+1)*chunk-1, r.End)
		parts = append(parts, types.Range{Start: start, End: end, Type: r.Type})
		start = end + 1
	}
	return parts
}

// Package parquet plans format-aware prefetches for Parquet objects: the
// footer at open time and whole column chunks on request.
package parquet

import (
	"context"
	"strings"

	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/pkg/types"
)

// IsParquet reports whether key ends in one of the configured suffixes.
func IsParquet(cfg config.LogicalIOConfig, key string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range cfg.ParquetSuffixes {
		if suffix != "" && strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// TailRanges returns the ranges worth fetching when a Parquet object is
// opened. Small objects are fetched whole as one block. Otherwise the last
// FooterCachingSize bytes are footer metadata and the PageIndexCachingSize
// bytes before them are the footer index. Ranges are ordered by start.
func TailRanges(cfg config.LogicalIOConfig, contentLength int64) []types.Range {
	if contentLength <= 0 {
		return nil
	}
	last := contentLength - 1

	if cfg.SmallObjectsPrefetchingEnabled && contentLength <= cfg.SmallObjectSizeThreshold.Int64() {
		return []types.Range{{Start: 0, End: last, Type: types.RangeTypeBlock}}
	}

	footer := cfg.FooterCachingSize.Int64()
	if footer <= 0 {
		return nil
	}
	footerStart := max(0, contentLength-footer)

	var ranges []types.Range
	if index := cfg.PageIndexCachingSize.Int64(); index > 0 && footerStart > 0 {
		ranges = append(ranges, types.Range{
			Start: max(0, footerStart-index),
			End:   footerStart - 1,
			Type:  types.RangeTypeFooterIndex,
		})
	}
	return append(ranges, types.Range{Start: footerStart, End: last, Type: types.RangeTypeFooterMetadata})
}

// PrefetchTail submits the tail ranges of an object of contentLength bytes
// to exec and returns them. The fetches run in the background.
func PrefetchTail(ctx context.Context, exec types.Executor, cfg config.LogicalIOConfig, contentLength int64) ([]types.Range, error) {
	plan := types.NewIOPlan(TailRanges(cfg, contentLength)...)
	result := exec.Execute(ctx, plan)
	if result.State == types.IOPlanFailed {
		return nil, result.Err
	}
	return plan.Ranges, nil
}

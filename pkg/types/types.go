package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/objectfs/accelerator/pkg/errors"
)

// S3URI names an object by bucket and key.
type S3URI struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ParseS3URI parses "s3://bucket/key".
func ParseS3URI(raw string) (S3URI, error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return S3URI{}, errors.InvalidInput("parse_uri", "uri %q: missing s3:// scheme", raw)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return S3URI{}, errors.InvalidInput("parse_uri", "uri %q: expected s3://bucket/key", raw)
	}
	return S3URI{Bucket: bucket, Key: key}, nil
}

func (u S3URI) String() string {
	return "s3://" + u.Bucket + "/" + u.Key
}

// ObjectKey identifies one version of an object: its location plus the
// entity tag observed when it was opened.
type ObjectKey struct {
	URI  S3URI  `json:"uri"`
	ETag string `json:"etag"`
}

func (k ObjectKey) String() string {
	return k.URI.String() + "#" + k.ETag
}

// ObjectMetadata represents the immutable attributes of an opened object.
type ObjectMetadata struct {
	ContentLength int64     `json:"content_length"`
	ETag          string    `json:"etag"`
	LastModified  time.Time `json:"last_modified"`
	ContentType   string    `json:"content_type,omitempty"`
}

// LastByte returns the position of the final byte, or -1 for empty objects.
func (m ObjectMetadata) LastByte() int64 {
	return m.ContentLength - 1
}

// RangeType tags a range with its purpose. Only footer ranges are eligible
// for the external cache.
type RangeType int

const (
	RangeTypeBlock RangeType = iota
	RangeTypeFooterMetadata
	RangeTypeFooterIndex
)

func (t RangeType) String() string {
	switch t {
	case RangeTypeBlock:
		return "block"
	case RangeTypeFooterMetadata:
		return "footer_metadata"
	case RangeTypeFooterIndex:
		return "footer_index"
	default:
		return fmt.Sprintf("range_type(%d)", int(t))
	}
}

// Cacheable reports whether ranges of this type go through the external cache.
func (t RangeType) Cacheable() bool {
	return t == RangeTypeFooterMetadata || t == RangeTypeFooterIndex
}

// Range is an inclusive byte interval [Start, End] within an object.
type Range struct {
	Start int64     `json:"start"`
	End   int64     `json:"end"`
	Type  RangeType `json:"type"`
}

// NewRange returns a block-typed range after checking 0 <= start <= end.
func NewRange(start, end int64) (Range, error) {
	return NewTypedRange(start, end, RangeTypeBlock)
}

// NewTypedRange returns a range of the given type after checking 0 <= start <= end.
func NewTypedRange(start, end int64, t RangeType) (Range, error) {
	if start < 0 {
		return Range{}, errors.InvalidInput("new_range", "range start %d is negative", start)
	}
	if end < start {
		return Range{}, errors.InvalidInput("new_range", "range end %d precedes start %d", end, start)
	}
	return Range{Start: start, End: end, Type: t}, nil
}

// Length returns End-Start+1.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// Contains reports whether pos lies within the range.
func (r Range) Contains(pos int64) bool {
	return pos >= r.Start && pos <= r.End
}

// Overlaps reports whether the two ranges share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Adjacent reports whether o begins right after r ends or vice versa.
func (r Range) Adjacent(o Range) bool {
	return r.End+1 == o.Start || o.End+1 == r.Start
}

// CanMerge reports whether r and o can be coalesced. Ranges with different
// purposes never merge.
func (r Range) CanMerge(o Range) bool {
	return r.Type == o.Type && (r.Overlaps(o) || r.Adjacent(o))
}

// Merge returns the smallest range covering r and o. Callers check CanMerge first.
func (r Range) Merge(o Range) Range {
	return Range{Start: min(r.Start, o.Start), End: max(r.End, o.End), Type: r.Type}
}

// String renders "start-end"; it is also the range component of cache keys.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// HTTPRange renders the range as an HTTP Range header value.
func (r Range) HTTPRange() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ReadMode says whether a fetch serves a waiting reader or speculative prefetch.
type ReadMode int

const (
	ReadModeSync ReadMode = iota
	ReadModeAsync
)

func (m ReadMode) String() string {
	if m == ReadModeAsync {
		return "ASYNC"
	}
	return "SYNC"
}

// Referrer is the correlation token attached to every object request.
type Referrer struct {
	StreamID string
	Range    Range
	Mode     ReadMode
}

func (r Referrer) String() string {
	s := r.Range.HTTPRange() + "," + r.Mode.String()
	if r.StreamID != "" {
		s += "," + r.StreamID
	}
	return s
}

// HeadRequest asks for object metadata.
type HeadRequest struct {
	URI S3URI
}

// GetRequest asks for one byte range of one object version.
type GetRequest struct {
	URI      S3URI
	Range    Range
	ETag     string
	Referrer Referrer
}

// CacheStats represents cache statistics.
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Errors    uint64  `json:"errors"`
	Evictions uint64  `json:"evictions"`
	Size      int64   `json:"size"`
	Capacity  int64   `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

// IOPlan is an ordered set of ranges to prefetch.
type IOPlan struct {
	Ranges []Range `json:"ranges"`
}

// NewIOPlan sorts ranges by start and coalesces overlapping or adjacent
// ranges of the same type. Ranges of different types stay separate.
func NewIOPlan(ranges ...Range) IOPlan {
	if len(ranges) == 0 {
		return IOPlan{}
	}
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if last.CanMerge(r) {
			*last = last.Merge(r)
			continue
		}
		merged = append(merged, r)
	}
	return IOPlan{Ranges: merged}
}

// Empty reports whether the plan has nothing to fetch.
func (p IOPlan) Empty() bool {
	return len(p.Ranges) == 0
}

// IOPlanState is the outcome of submitting a plan.
type IOPlanState int

const (
	IOPlanSubmitted IOPlanState = iota
	IOPlanSkipped
	IOPlanFailed
)

func (s IOPlanState) String() string {
	switch s {
	case IOPlanSubmitted:
		return "SUBMITTED"
	case IOPlanSkipped:
		return "SKIPPED"
	default:
		return "FAILED"
	}
}

// IOPlanExecution reports what happened to a submitted plan.
type IOPlanExecution struct {
	State IOPlanState
	Err   error
}

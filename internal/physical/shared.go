package physical

import (
	"context"
	"log/slog"
	"time"

	"github.com/objectfs/accelerator/pkg/types"
)

// Fetch sources and cache outcomes reported to Telemetry.
const (
	SourceCache = "cache"
	SourceStore = "s3"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Scheduler runs fetch tasks on a bounded set of goroutines.
type Scheduler interface {
	Submit(ctx context.Context, task func()) error
}

// Telemetry receives block layer events. Implementations must be safe for
// concurrent use.
type Telemetry interface {
	BlockCreated(rangeType types.RangeType, mode types.ReadMode, generation int64)
	BlockFetched(rangeType types.RangeType, source string, bytes int, elapsed time.Duration, err error)
	FetchRetried(rangeType types.RangeType)
	CacheLookup(outcome string)
	CacheWriteFailed()
	PlanExecuted(state types.IOPlanState)
}

// Shared holds the process-wide collaborators handed to every manager and
// block. The factory that builds it owns and closes them; nothing in this
// package does. A nil *Shared or nil fields are valid.
type Shared struct {
	Cache     types.Cache
	Pool      Scheduler
	Telemetry Telemetry
	Logger    *slog.Logger

	// RetryBackoff is the delay before the second fetch attempt; it doubles
	// per attempt up to MaxRetryBackoff. Zero retries immediately.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

func (s *Shared) cache() types.Cache {
	if s == nil {
		return nil
	}
	return s.Cache
}

func (s *Shared) pool() Scheduler {
	if s == nil {
		return nil
	}
	return s.Pool
}

func (s *Shared) telemetry() Telemetry {
	if s == nil || s.Telemetry == nil {
		return nopTelemetry{}
	}
	return s.Telemetry
}

func (s *Shared) logger() *slog.Logger {
	if s == nil || s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Shared) backoff() (time.Duration, time.Duration) {
	if s == nil {
		return 0, 0
	}
	return s.RetryBackoff, s.MaxRetryBackoff
}

type nopTelemetry struct{}

func (nopTelemetry) BlockCreated(types.RangeType, types.ReadMode, int64) {}
func (nopTelemetry) BlockFetched(types.RangeType, string, int, time.Duration, error) {}
func (nopTelemetry) FetchRetried(types.RangeType) {}
func (nopTelemetry) CacheLookup(string) {}
func (nopTelemetry) CacheWriteFailed() {}
func (nopTelemetry) PlanExecuted(types.IOPlanState) {}

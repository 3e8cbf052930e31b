package s3

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectfs/accelerator/pkg/errors"
)

// Operation names recorded per request.
const (
	opHead = "head_object"
	opGet  = "get_object"
)

// OperationStats counts requests of one kind.
type OperationStats struct {
	Requests     int64         `json:"requests"`
	Errors       int64         `json:"errors"`
	TotalLatency time.Duration `json:"total_latency"`
	MaxLatency   time.Duration `json:"max_latency"`
}

// MeanLatency is zero until the first request completes.
func (s OperationStats) MeanLatency() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Requests)
}

// RequestStats is a snapshot of everything a RequestRecorder has seen.
type RequestStats struct {
	Requests        int64                      `json:"requests"`
	Errors          int64                      `json:"errors"`
	BytesDownloaded int64                      `json:"bytes_downloaded"`
	Operations      map[string]OperationStats  `json:"operations"`
	ErrorCodes      map[errors.ErrorCode]int64 `json:"error_codes,omitempty"`
	LastError       string                     `json:"last_error,omitempty"`
	LastErrorAt     time.Time                  `json:"last_error_at,omitempty"`
}

// RequestRecorder tallies requests by operation and failures by error code.
// One recorder may be shared by several clients.
type RequestRecorder struct {
	bytes atomic.Int64

	mu          sync.Mutex
	ops         map[string]*OperationStats
	codes       map[errors.ErrorCode]int64
	lastError   string
	lastErrorAt time.Time
}

// NewRequestRecorder returns an empty recorder.
func NewRequestRecorder() *RequestRecorder {
	return &RequestRecorder{
		ops:   make(map[string]*OperationStats),
		codes: make(map[errors.ErrorCode]int64),
	}
}

// Observe records one finished request. err should already be translated so
// that its code is known; untranslated errors count as INTERNAL_ERROR.
func (r *RequestRecorder) Observe(op string, started time.Time, err error) {
	elapsed := time.Since(started)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.ops[op]
	if !ok {
		s = &OperationStats{}
		r.ops[op] = s
	}
	s.Requests++
	s.TotalLatency += elapsed
	if elapsed > s.MaxLatency {
		s.MaxLatency = elapsed
	}
	if err == nil {
		return
	}

	s.Errors++
	code, ok := errors.CodeOf(err)
	if !ok {
		code = errors.ErrCodeInternalError
	}
	r.codes[code]++
	r.lastError = err.Error()
	r.lastErrorAt = time.Now()
}

// AddBytes counts body bytes handed to callers.
func (r *RequestRecorder) AddBytes(n int64) {
	r.bytes.Add(n)
}

// Snapshot copies the current counters.
func (r *RequestRecorder) Snapshot() RequestStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := RequestStats{
		BytesDownloaded: r.bytes.Load(),
		Operations:      make(map[string]OperationStats, len(r.ops)),
		LastError:       r.lastError,
		LastErrorAt:     r.lastErrorAt,
	}
	for op, s := range r.ops {
		out.Operations[op] = *s
		out.Requests += s.Requests
		out.Errors += s.Errors
	}
	if len(r.codes) > 0 {
		out.ErrorCodes = make(map[errors.ErrorCode]int64, len(r.codes))
		for code, n := range r.codes {
			out.ErrorCodes[code] = n
		}
	}
	return out
}

// ErrorRate is the failed share of all requests.
func (r *RequestRecorder) ErrorRate() float64 {
	s := r.Snapshot()
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Requests)
}

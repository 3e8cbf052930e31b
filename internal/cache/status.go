package cache

import "github.com/objectfs/accelerator/pkg/types"

// Status describes a cache built by New.
type Status struct {
	Backend  string            `json:"backend"`
	Breaker  string            `json:"breaker,omitempty"`
	Rejected uint64            `json:"rejected,omitempty"`
	Local    *types.CacheStats `json:"local,omitempty"`
}

// Describe reports on c, looking through a breaker to the cache it guards.
// Only the in-process backend keeps hit and size counters.
func Describe(c types.Cache) Status {
	var st Status
	if g, ok := c.(*Guarded); ok {
		st.Breaker = g.State().String()
		st.Rejected = g.Rejected()
		c = g.inner
	}

	switch inner := c.(type) {
	case *LRU:
		st.Backend = "memory"
		stats := inner.Stats()
		st.Local = &stats
	case *ValkeyCache:
		st.Backend = "valkey"
	default:
		st.Backend = "custom"
	}
	return st
}

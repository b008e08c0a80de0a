package txn

import (
	"sync"
	"time"
)

// ReadVersionCache is process-wide shared state (spec §5): it stores the
// most recently committed (version, monotonic_timestamp) pair and serves
// it to later transaction attempts per their ReadVersionPolicy. Updates
// are conditional on monotonicity of the wall/monotonic timestamp, never
// the version number alone, since commit versions can race across
// concurrent engines.
type ReadVersionCache struct {
	mu      sync.Mutex
	version int64
	at      time.Time
	set     bool
}

func NewReadVersionCache() *ReadVersionCache {
	return &ReadVersionCache{}
}

// Get returns the cached version if the policy permits its use.
func (c *ReadVersionCache) Get(policy ReadVersionPolicy, staleBound time.Duration) (int64, bool) {
	if policy == ReadVersionServer {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return 0, false
	}
	if policy == ReadVersionStale && time.Since(c.at) > staleBound {
		return 0, false
	}
	return c.version, true
}

// Update records a newly committed version, provided it is not older than
// what is already cached (monotonic_timestamp drives staleness, not wall
// clock comparisons of the version itself — see spec §4.4).
func (c *ReadVersionCache) Update(version int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set && now.Before(c.at) {
		return
	}
	c.version = version
	c.at = now
	c.set = true
}

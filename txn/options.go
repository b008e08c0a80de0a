package txn

import "time"

// Priority mirrors the KV store's transaction priority knob (spec §4.4:
// "apply configured options (priority, timeout, read-priority,
// cache-disable)").
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityBatch
	PriorityImmediate
)

// ReadVersionPolicy selects how aggressively a transaction attempt reuses
// the process-wide read-version cache (spec §4.4).
type ReadVersionPolicy int

const (
	// ReadVersionServer never uses the cache; every attempt asks the store
	// for a fresh read version.
	ReadVersionServer ReadVersionPolicy = iota
	// ReadVersionCached always uses the cached version if one is present.
	ReadVersionCached
	// ReadVersionStale uses the cached version if its age is within
	// Options.StaleBound.
	ReadVersionStale
)

// Options configures one Engine.Run invocation (retried internally up to
// RetryLimit times).
type Options struct {
	RetryLimit     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	Priority       Priority
	Snapshot       bool // isolation hint; Run does not read it, each Tx read takes its own snapshot flag

	ReadVersionPolicy ReadVersionPolicy
	StaleBound        time.Duration

	// FailFastPreCommit selects fail-fast (stop at first failing check) vs
	// collect-all pre-commit check execution.
	FailFastPreCommit bool
}

func DefaultOptions() Options {
	return Options{
		RetryLimit:        6,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		Timeout:           0,
		Priority:          PriorityDefault,
		ReadVersionPolicy: ReadVersionServer,
		FailFastPreCommit: true,
	}
}

// Package metrics provides the process-wide counters the transaction
// runtime and large-transaction monitor publish (SPEC_FULL.md §5, A5).
// Each Engine constructs its own Metrics instance and registers it with a
// caller-supplied prometheus.Registerer; there is no package-level
// singleton registry (spec §9: avoid singletons for shared state).
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Commits       prometheus.Counter
	Retries       prometheus.Counter
	Conflicts     prometheus.Counter
	TxnByteSize   prometheus.Histogram
	LargeTxnWarns prometheus.Counter
}

// New constructs a Metrics instance and registers its collectors with reg.
// Pass a prometheus.NewRegistry() per-engine in tests to avoid collisions
// with other Engine instances sharing a process.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ixdb_txn_commits_total",
			Help: "Number of committed transaction attempts.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ixdb_txn_retries_total",
			Help: "Number of transaction attempts that were retried.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ixdb_txn_conflicts_total",
			Help: "Number of transaction attempts that failed with a retryable conflict.",
		}),
		TxnByteSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ixdb_txn_byte_size",
			Help:    "Approximate accumulated mutation byte size per committed transaction.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		LargeTxnWarns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ixdb_txn_large_warnings_total",
			Help: "Number of transactions exceeding the large-transaction byte threshold.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Commits, m.Retries, m.Conflicts, m.TxnByteSize, m.LargeTxnWarns)
	}
	return m
}

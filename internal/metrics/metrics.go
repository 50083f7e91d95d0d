// Package metrics exposes Prometheus counters and a gauge over the
// pipeline's stage transitions, adapter calls, and intervention queue,
// generalizing the teacher's prometheus/client_golang instrumentation
// (registered once at process startup and read by a /metrics scrape)
// onto the coordinator's own stage machine instead of consensus rounds.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StageTransitions counts orchestrator stage outcomes by stage name and
// outcome kind (ok, precondition_failed, gate_blocked, adapter_unavailable,
// cancelled).
var StageTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "omr",
		Subsystem: "orchestrator",
		Name:      "stage_transitions_total",
		Help:      "Count of stage transition attempts by stage and outcome.",
	},
	[]string{"stage", "outcome"},
)

// AdapterCalls counts external-adapter calls by adapter name and result
// (ok, transient, permanent, timeout).
var AdapterCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "omr",
		Subsystem: "adapters",
		Name:      "calls_total",
		Help:      "Count of external adapter calls by adapter and result.",
	},
	[]string{"adapter", "result"},
)

// InterventionsOpen tracks the current count of open+claimed intervention
// items: incremented when an item is opened (and for each open item seeded
// at startup), decremented when one is resolved or cancelled.
var InterventionsOpen = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "omr",
		Subsystem: "intervention",
		Name:      "open_items",
		Help:      "Current count of non-terminal intervention items by reason kind.",
	},
	[]string{"reason_kind"},
)

// LedgerBlocks counts ledger blocks appended by kind.
var LedgerBlocks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "omr",
		Subsystem: "ledger",
		Name:      "blocks_appended_total",
		Help:      "Count of ledger blocks appended by kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(StageTransitions, AdapterCalls, InterventionsOpen, LedgerBlocks)
}

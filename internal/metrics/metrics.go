// Package metrics exposes Prometheus gauges and counters for the PBFT
// engine, following the teacher's namespaced promauto package pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pbft"

var (
	// View tracks the current view number.
	View = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "view",
		Help:      "Current view number",
	})

	// SeqNum tracks the next block height this node is deciding.
	SeqNum = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "seq_num",
		Help:      "Sequence number (block height) currently being decided",
	})

	// Phase tracks the node's phase as an integer (PrePreparing=0 ... Finished=4).
	Phase = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "phase",
		Help:      "Current phase of the replicated state machine",
	})

	// ViewChanging is 1 while mode == ViewChanging, 0 while Normal.
	ViewChanging = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "view_changing",
		Help:      "1 if the node is pursuing a view change, 0 otherwise",
	})

	// QuorumSize tracks 2f+1 for the current membership.
	QuorumSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "quorum_size",
		Help:      "Current 2f+1 quorum size",
	})

	// ValidatorCount tracks the current membership size.
	ValidatorCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "validator_count",
		Help:      "Number of peers in the current membership",
	})

	// BlocksCommitted counts blocks that reached Finished and were committed.
	BlocksCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_committed_total",
		Help:      "Total number of blocks committed by this node",
	})

	// BlocksCaughtUp counts blocks finalized via the catch-up path.
	BlocksCaughtUp = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_caught_up_total",
		Help:      "Total number of blocks finalized via catch-up",
	})

	// ViewChangesStarted counts propose_view_change invocations.
	ViewChangesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "view_changes_started_total",
		Help:      "Total number of view changes this node has proposed",
	})

	// ViewChangesCompleted counts successful NewView adoptions.
	ViewChangesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "view_changes_completed_total",
		Help:      "Total number of NewView messages accepted",
	})

	// MessagesDropped counts per-message errors isolated by the event loop.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Total number of peer messages dropped, labeled by reason",
	}, []string{"reason"})

	// LogSize tracks the number of messages currently retained in the log.
	LogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_size",
		Help:      "Number of messages currently retained in the message log",
	})

	// BacklogDepth tracks the number of deferred peer messages awaiting their BlockNew.
	BacklogDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backlog_depth",
		Help:      "Number of messages currently held in the backlog",
	})
)

// RecordDropped increments the dropped-message counter for reason.
func RecordDropped(reason string) {
	MessagesDropped.WithLabelValues(reason).Inc()
}

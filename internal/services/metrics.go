package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// ledgerAppends counts committed messages.
	ledgerAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_messages_appended_total",
		Help: "Messages committed to the ledger.",
	})

	// ledgerAppendLat measures Append from lock acquisition to commit.
	ledgerAppendLat = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_append_duration_seconds",
		Help:    "Time spent appending a message, including the room lock wait.",
		Buckets: prometheus.DefBuckets,
	})

	// lockTimeouts counts acquisitions that gave up with ErrRoomBusy.
	lockTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_lock_timeouts_total",
		Help: "Room or pair lock acquisitions that timed out.",
	}, []string{"scope"})
)

func init() {
	prometheus.MustRegister(ledgerAppends, ledgerAppendLat, lockTimeouts)
}

package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txqueue",
			Subsystem: "txn",
			Name:      "events",
			Help:      "Counter of transaction events.",
		}, []string{"type"})

	txnGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "txqueue",
			Subsystem: "txn",
			Name:      "state",
			Help:      "Size of the transaction manager state.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(txnGauge)
}

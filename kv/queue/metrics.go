package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	queueCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txqueue",
			Subsystem: "queue",
			Name:      "events",
			Help:      "Counter of queue events.",
		}, []string{"type"})

	gcDeletedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txqueue",
			Subsystem: "queue",
			Name:      "gc_deleted_rows",
			Help:      "Rows deleted by the invalid transaction collector and eviction.",
		}, []string{"cf"})
)

func init() {
	prometheus.MustRegister(queueCounter)
	prometheus.MustRegister(gcDeletedCounter)
}

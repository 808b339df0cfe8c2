package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	// retriesTotal counts retries scheduled by the executor.
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_retries_total",
			Help: "Number of persistence operations retried, by operation and error kind.",
		},
		[]string{"op", "kind"},
	)

	// poolResetsTotal counts connection pool resets actually performed
	// (coalesced resets count once).
	poolResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "persistence_pool_resets_total",
			Help: "Number of connection pool resets after statement conflicts.",
		},
	)

	// failuresTotal counts operations that gave up, by kind.
	failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_failures_total",
			Help: "Number of persistence operations that failed, by operation and error kind.",
		},
		[]string{"op", "kind"},
	)
)

func init() {
	prometheus.MustRegister(retriesTotal, poolResetsTotal, failuresTotal)
}

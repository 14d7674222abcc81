package stream

import "github.com/prometheus/client_golang/prometheus"

var (
	unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchangestack",
			Subsystem: "stream",
			Name:      "units_total",
			Help:      "Notification units read from streams",
		},
		[]string{"protocol"},
	)
	unitErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchangestack",
			Subsystem: "stream",
			Name:      "unit_errors_total",
			Help:      "Notification units that could not be handled",
		},
		[]string{"protocol"},
	)
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchangestack",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Streams reopened after the server ended them",
		},
		[]string{"protocol"},
	)
)

func init() {
	prometheus.MustRegister(unitsTotal, unitErrorsTotal, reconnectsTotal)
}

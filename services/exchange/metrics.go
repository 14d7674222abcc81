package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
)

var accountErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exchangestack",
		Subsystem: "account",
		Name:      "errors_total",
		Help:      "Errors reported by exchange accounts.",
	},
	[]string{"protocol"},
)

var folderSyncsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exchangestack",
		Subsystem: "account",
		Name:      "folder_syncs_total",
		Help:      "Folder message syncs by outcome.",
	},
	[]string{"protocol", "result"},
)

var mailEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exchangestack",
		Subsystem: "account",
		Name:      "mail_events_total",
		Help:      "Mail events emitted by reconciliation.",
	},
	[]string{"protocol", "type"},
)

var accountsRunning = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "exchangestack",
		Subsystem: "service",
		Name:      "accounts_running",
		Help:      "Exchange accounts currently supervised.",
	},
)

func init() {
	prometheus.MustRegister(accountErrorsTotal, folderSyncsTotal, mailEventsTotal, accountsRunning)
}

func syncResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

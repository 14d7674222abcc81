package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var callsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exchangestack",
		Subsystem: "transport",
		Name:      "calls_total",
		Help:      "Exchange calls by protocol, action and outcome",
	},
	[]string{"protocol", "action", "result"},
)

var callDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "exchangestack",
		Subsystem: "transport",
		Name:      "call_duration_seconds",
		Help:      "Time spent in Exchange calls including one re-authentication",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"protocol", "action"},
)

var reauthTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exchangestack",
		Subsystem: "transport",
		Name:      "reauth_total",
		Help:      "Token renewals triggered by 401 or 440 responses",
	},
	[]string{"protocol"},
)

func init() {
	prometheus.MustRegister(callsTotal, callDuration, reauthTotal)
}

func observeCall(protocol, action string, start time.Time, err error) {
	callDuration.WithLabelValues(protocol, action).Observe(time.Since(start).Seconds())
	callsTotal.WithLabelValues(protocol, action, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *FaultError:
		return "fault"
	case *LoginError:
		return "login"
	case *ConnectError:
		return "connect"
	case *TransportError:
		return "transport"
	}
	return "error"
}

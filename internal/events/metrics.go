package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "comboq_event_peers",
			Help: "The number of connected event peers.",
		},
	)
	mEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comboq_events_total",
			Help: "The number of inbound events by name and outcome.",
		},
		[]string{"event", "result"},
	)
)

// Event outcomes.
const (
	resultOK           = "ok"
	resultUnauthorized = "unauthorized"
	resultMalformed    = "malformed"
	resultRateLimited  = "rate_limited"
	resultError        = "error"
)

func observe(event, result string) {
	switch event {
	case EventFetch, EventInvalid, EventValidate, EventSettings, EventConnect, EventDisconnect:
	default:
		event = "unknown"
	}
	mEvents.WithLabelValues(event, result).Inc()
}

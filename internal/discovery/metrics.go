package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are process-wide. Gauges are updated by delta, so with several
// engines they hold the total across all of them.
var (
	metricDatagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssdp",
		Subsystem: "discovery",
		Name:      "datagrams_received_total",
		Help:      "Total number of datagrams received",
	}, []string{"receiver"})
	metricDatagramsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssdp",
		Subsystem: "discovery",
		Name:      "datagrams_dropped_total",
		Help:      "Total number of datagrams that did not decode into a service record",
	}, []string{"reason"})
	metricDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ssdp",
		Subsystem: "discovery",
		Name:      "duplicate_records_total",
		Help:      "Total number of valid records ignored because the USN was already known",
	})
	metricServices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ssdp",
		Subsystem: "discovery",
		Name:      "services",
		Help:      "Number of services in the current session of every engine in the process",
	})
	metricBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssdp",
		Subsystem: "discovery",
		Name:      "broadcasts_total",
		Help:      "Total number of M-SEARCH broadcasts, by result",
	}, []string{"result"})
	metricReceiveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ssdp",
		Subsystem: "discovery",
		Name:      "receive_failures_total",
		Help:      "Total number of receive loops ended by a transport failure",
	}, []string{"receiver"})
	metricSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ssdp",
		Subsystem: "discovery",
		Name:      "subscribers",
		Help:      "Number of active event subscriptions of every engine in the process",
	})
)

func init() {
	// Present the labelled counters even when zero
	for _, result := range []string{"ok", "error"} {
		metricBroadcasts.WithLabelValues(result)
	}
	for _, reason := range []string{"missing_header", "malformed_header", "invalid_expiry", "not_utf8", "empty"} {
		metricDatagramsDropped.WithLabelValues(reason)
	}
}

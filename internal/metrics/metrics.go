// Package metrics exposes prometheus instrumentation for the event
// distribution core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbean_events_published_total",
		Help: "Order events published, by topic and path (bus|broker)",
	}, []string{"topic", "path"})

	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orderbean_events_delivered_total",
		Help: "Event frames pushed to streaming clients",
	})

	PublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orderbean_publish_errors_total",
		Help: "Broker append failures swallowed by the publisher",
	})

	BrokerReadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orderbean_broker_read_errors_total",
		Help: "Broker read failures treated as empty poll cycles",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orderbean_active_sessions",
		Help: "Streaming sessions currently open",
	})
)

func init() {
	prometheus.MustRegister(EventsPublished, EventsDelivered, PublishErrors, BrokerReadErrors, ActiveSessions)
}

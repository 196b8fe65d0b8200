// Package metrics holds the Prometheus instruments for both binaries. The
// registry is created at bootstrap and passed in; nothing here is global.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the platform records.
type Metrics struct {
	registry *prometheus.Registry

	// Stream proxy
	SessionState      *prometheus.GaugeVec   // feed -> numeric session state
	EventsDecoded     *prometheus.CounterVec // feed, kind
	CodecErrors       *prometheus.CounterVec // feed, kind
	ReconnectAttempts *prometheus.CounterVec // feed
	HeartbeatTimeouts *prometheus.CounterVec // feed
	BroadcastDropped  *prometheus.CounterVec // topic
	SubscriberLag     *prometheus.GaugeVec   // topic
	ActiveSubscribers *prometheus.GaugeVec   // topic

	// Execution engine
	OrdersSubmitted *prometheus.CounterVec // environment
	OrdersFilled    prometheus.Counter
	OrdersCancelled prometheus.Counter
	OrdersRejected  prometheus.Counter
	PlanViolations  *prometheus.CounterVec // code
	BrokerRetries   prometheus.Counter
	BrokerErrors    *prometheus.CounterVec // category
	MassCancelRuns  prometheus.Counter
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cream_session_state",
			Help: "Current ingestion session state per feed (0=disconnected..5=streaming)",
		}, []string{"feed"}),
		EventsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cream_events_decoded_total",
			Help: "Normalized events decoded from the broker wire",
		}, []string{"feed", "kind"}),
		CodecErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cream_codec_errors_total",
			Help: "Frames that failed to decode, by error kind",
		}, []string{"feed", "kind"}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cream_reconnect_attempts_total",
			Help: "Session reconnect attempts per feed",
		}, []string{"feed"}),
		HeartbeatTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cream_heartbeat_timeouts_total",
			Help: "Heartbeat timeouts forcing a session restart",
		}, []string{"feed"}),
		BroadcastDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cream_broadcast_dropped_total",
			Help: "Events dropped for lagging subscribers, per topic",
		}, []string{"topic"}),
		SubscriberLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cream_subscriber_lag",
			Help: "Total drops of the most recently lagging subscriber, per topic",
		}, []string{"topic"}),
		ActiveSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cream_active_subscribers",
			Help: "Live downstream subscribers per topic",
		}, []string{"topic"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cream_orders_submitted_total",
			Help: "Orders submitted to the broker",
		}, []string{"environment"}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cream_orders_filled_total",
			Help: "Orders fully filled",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cream_orders_cancelled_total",
			Help: "Orders cancelled",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cream_orders_rejected_total",
			Help: "Orders rejected before or at the broker",
		}),
		PlanViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cream_plan_violations_total",
			Help: "Risk constraint violations by code",
		}, []string{"code"}),
		BrokerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cream_broker_retries_total",
			Help: "Retried broker HTTP requests",
		}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cream_broker_errors_total",
			Help: "Broker errors by category",
		}, []string{"category"}),
		MassCancelRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cream_mass_cancel_runs_total",
			Help: "Mass-cancel safety activations",
		}),
	}

	reg.MustRegister(
		m.SessionState, m.EventsDecoded, m.CodecErrors, m.ReconnectAttempts,
		m.HeartbeatTimeouts, m.BroadcastDropped, m.SubscriberLag,
		m.ActiveSubscribers, m.OrdersSubmitted, m.OrdersFilled,
		m.OrdersCancelled, m.OrdersRejected, m.PlanViolations,
		m.BrokerRetries, m.BrokerErrors, m.MassCancelRuns,
	)
	return m
}

// Handler serves the registry for the metrics port.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

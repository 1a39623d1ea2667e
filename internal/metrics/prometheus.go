package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice agent service
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	StartFailures    *prometheus.CounterVec
	TeardownDuration prometheus.Histogram

	// Event metrics
	EventsPublished     *prometheus.CounterVec
	SignalsDropped      prometheus.Counter
	Subscribers         prometheus.Gauge
	SubscriberEvictions prometheus.Counter

	// Persistence metrics
	PersistenceForwards *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_agent_active_sessions",
			Help: "Current number of registered sessions",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_sessions_ended_total",
			Help: "Total number of sessions removed from the registry",
		}, []string{"reason"}),
		StartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_start_failures_total",
			Help: "Total number of rejected session starts",
		}, []string{"kind"}),
		TeardownDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_agent_teardown_duration_seconds",
			Help:    "Time spent closing a session's pipeline and media connection",
			Buckets: prometheus.DefBuckets,
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_events_published_total",
			Help: "Total number of canonical events published",
		}, []string{"kind"}),
		SignalsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_signals_dropped_total",
			Help: "Total number of raw engine signals dropped by a failing translation",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_agent_subscribers",
			Help: "Current number of live transcript subscribers",
		}),
		SubscriberEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_agent_subscriber_evictions_total",
			Help: "Total number of subscribers evicted after a failed delivery",
		}),

		PersistenceForwards: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_agent_persistence_forwards_total",
			Help: "Total number of persistence forwards by result",
		}, []string{"result"}),
	}
}

// Nop returns metrics registered with a private registry. Used where no
// exposition endpoint exists.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

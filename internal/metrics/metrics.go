// Package metrics exposes the relay's live counters via Prometheus,
// generalized from the teacher's single expvar.Int (server/hub.go's
// h.topicsLive) to a small set of proper Prometheus collectors — the
// pack consistently reaches for prometheus/client_golang for service
// metrics (it is the teacher's own dependency, and dantte-lp-gobfd wires
// it too), so we promote the ambient "expose live counts" concern to
// that library rather than keep expvar.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of counters/gauges the relay publishes.
type Metrics struct {
	SessionsOnline prometheus.Gauge
	RelaysTotal    *prometheus.CounterVec
	RateLimited    prometheus.Counter
	QueueDropped   prometheus.Counter
	QueueDepth     prometheus.Gauge
}

// New registers and returns a Metrics set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaymesh_sessions_online",
			Help: "Number of locally-bound live sessions on this instance.",
		}),
		RelaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaymesh_relays_total",
			Help: "Count of relay attempts by outcome.",
		}, []string{"status"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaymesh_rate_limited_total",
			Help: "Count of requests rejected by the per-session rate limiter.",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaymesh_queue_dropped_total",
			Help: "Count of envelopes dropped due to queue overflow.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaymesh_queue_depth_last",
			Help: "Depth of the most recently observed recipient queue.",
		}),
	}

	reg.MustRegister(m.SessionsOnline, m.RelaysTotal, m.RateLimited, m.QueueDropped, m.QueueDepth)
	return m
}

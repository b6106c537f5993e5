package syncer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cwrk-planet/room-client/internal/timeline"
)

type Metrics struct {
	loads       *prometheus.CounterVec
	polls       *prometheus.CounterVec
	pages       *prometheus.CounterVec
	resets      prometheus.Counter
	pollLatency prometheus.Histogram
}

// NewMetrics registers the sync collectors on reg. A nil reg gives
// unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer, store *timeline.Store) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room_client",
			Subsystem: "sync",
			Name:      "initial_loads_total",
			Help:      "Initial loads by result.",
		}, []string{"result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room_client",
			Subsystem: "sync",
			Name:      "poll_ticks_total",
			Help:      "Poll ticks by result (ok, failed, skipped).",
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room_client",
			Subsystem: "sync",
			Name:      "older_pages_total",
			Help:      "Backward pagination requests by result.",
		}, []string{"result"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "room_client",
			Subsystem: "sync",
			Name:      "session_resets_total",
			Help:      "Store reseeds caused by a server session change.",
		}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "room_client",
			Subsystem: "sync",
			Name:      "poll_duration_seconds",
			Help:      "Duration of successful poll ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return m
	}

	reg.MustRegister(m.loads, m.polls, m.pages, m.resets, m.pollLatency)
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "room_client",
			Name:      "messages",
			Help:      "Canonical messages held in the store.",
		}, func() float64 { return float64(store.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "room_client",
			Name:      "pending_messages",
			Help:      "Local messages waiting for the server.",
		}, func() float64 { return float64(store.PendingLen()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "room_client",
			Name:      "watermark_seconds",
			Help:      "Last successful update watermark as unix time.",
		}, func() float64 { return float64(store.Watermark()) / 1000 }),
	)
	return m
}

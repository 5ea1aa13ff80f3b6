package barterchat

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StateTransitionsTotal counts connection state transitions by target state.
	StateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barterchat_state_transitions_total",
		Help: "Connection state transitions",
	}, []string{"to"})

	// FramesTotal counts inbound relay frames, labeled by result:
	// "decoded" or "dropped".
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barterchat_frames_total",
		Help: "Inbound relay frames processed",
	}, []string{"result"})

	// StreamDropsTotal counts events dropped for subscribers that fell behind.
	StreamDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "barterchat_stream_dropped_events_total",
		Help: "Events dropped for slow stream subscribers",
	})

	// ReconcilerMissedTotal counts live events the ChatSync pump missed
	// because it fell behind the stream.
	ReconcilerMissedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "barterchat_reconciler_missed_events_total",
		Help: "Live events dropped before reaching the reconciler",
	})

	// SignalsTotal counts outbound typing signals by frame type and result
	// ("sent", "skipped", "failed").
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barterchat_signals_total",
		Help: "Outbound typing signals",
	}, []string{"type", "result"})

	// HistoryPagesTotal counts history page loads by result ("ok", "error").
	HistoryPagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barterchat_history_pages_total",
		Help: "History page loads",
	}, []string{"result"})

	// HistoryLoadSeconds records history page latency.
	HistoryLoadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "barterchat_history_load_seconds",
		Help:    "History page load latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// OptimisticMatchesTotal counts optimistic copies replaced by their
	// server-confirmed message.
	OptimisticMatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "barterchat_optimistic_matches_total",
		Help: "Optimistic messages reconciled with a confirmed copy",
	})
)

// registry holds the package collectors. It is private so importing the
// package never touches prometheus.DefaultRegisterer.
var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(collectors()...)
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		StateTransitionsTotal,
		FramesTotal,
		StreamDropsTotal,
		ReconcilerMissedTotal,
		SignalsTotal,
		HistoryPagesTotal,
		HistoryLoadSeconds,
		OptimisticMatchesTotal,
	}
}

// RegisterMetrics adds the package collectors to reg, for applications that
// serve their own registry. Registering twice is not an error; a different
// collector under one of the same names is.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) && are.ExistingCollector == c {
				continue
			}
			return err
		}
	}
	return nil
}

// MetricsHandler returns an HTTP handler serving the package metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SlicesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livefeed_slices_emitted_total",
		Help: "Total time slices handed to the consumer",
	})
	PointsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_points_emitted_total",
		Help: "Total data points emitted in slices, partitioned by kind",
	}, []string{"kind"})
	PointsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_points_dropped_total",
		Help: "Total data points dropped, partitioned by reason",
	}, []string{"reason"}) // unsubscribed/duplicate/overflow

	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_adapter_errors_total",
		Help: "Total adapter fetch failures treated as empty results",
	}, []string{"adapter"})
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livefeed_fetch_duration_seconds",
		Help:    "Duration of asynchronous custom and universe fetches",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms -> ~8s
	}, []string{"adapter"})

	SecurityChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_security_changes_total",
		Help: "Total security change records enqueued",
	}, []string{"op"}) // added/removed
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livefeed_active_subscriptions",
		Help: "Subscriptions currently in the collection",
	})

	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livefeed_step_duration_seconds",
		Help:    "Duration of one synchronizer step",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16), // 50us -> ~1.6s
	})
	HandoffWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livefeed_handoff_wait_seconds",
		Help:    "Time the producer waited for the consumer to accept a slice",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12),
	})

	APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livefeed_api_retries_total",
		Help: "Total feed API requests retried, partitioned by status code",
	}, []string{"status"})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livefeed_stream_reconnects_total",
		Help: "Total websocket tick stream reconnect attempts",
	})
)

// ObserveSlice records one emitted slice.
func ObserveSlice(ticks, bars, custom, universe int) {
	SlicesEmitted.Inc()
	if ticks > 0 {
		PointsEmitted.WithLabelValues("tick").Add(float64(ticks))
	}
	if bars > 0 {
		PointsEmitted.WithLabelValues("tradebar").Add(float64(bars))
	}
	if custom > 0 {
		PointsEmitted.WithLabelValues("custom").Add(float64(custom))
	}
	if universe > 0 {
		PointsEmitted.WithLabelValues("universe").Add(float64(universe))
	}
}

// ObserveFetch records one asynchronous fetch.
func ObserveFetch(adapter string, dur time.Duration, err error) {
	FetchDuration.WithLabelValues(adapter).Observe(dur.Seconds())
	if err != nil {
		AdapterErrors.WithLabelValues(adapter).Inc()
	}
}

// Dropped records n dropped points.
func Dropped(reason string, n int) {
	if n > 0 {
		PointsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

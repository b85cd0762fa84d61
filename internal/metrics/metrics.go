package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

// Recorder owns a private registry with the engine's collectors. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	observations  *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	suppressed    *prometheus.CounterVec
	actions       *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	sinkFailures  *prometheus.CounterVec
	zscore        *prometheus.GaugeVec
	flagged       *prometheus.GaugeVec
	cycleDuration prometheus.Histogram
}

// New builds a Recorder and registers its collectors plus the Go/process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "observations_total",
			Help:      "Prices observed per asset, by verdict outcome.",
		}, []string{"asset", "outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "anomalies_total",
			Help:      "Anomalous observations by severity.",
		}, []string{"asset", "severity"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "flags_suppressed_total",
			Help:      "Flag requests held back by the cooldown.",
		}, []string{"asset"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "actions_total",
			Help:      "Ledger dispatches by kind and result.",
		}, []string{"asset", "kind", "result"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_failures_total",
			Help:      "Price fetch failures per asset.",
		}, []string{"asset"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "publish_failures_total",
			Help:      "Status publish failures per asset.",
		}, []string{"asset"}),
		zscore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "zscore",
			Help:      "Latest z-score per asset.",
		}, []string{"asset"}),
		flagged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "flagged",
			Help:      "1 when the asset is flagged on the ledger.",
		}, []string{"asset"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full polling cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
	}

	r.registry.MustRegister(
		r.observations,
		r.anomalies,
		r.suppressed,
		r.actions,
		r.fetchFailures,
		r.sinkFailures,
		r.zscore,
		r.flagged,
		r.cycleDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return r
}

// Handler exposes the registry over HTTP.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveVerdict records one classification.
func (r *Recorder) ObserveVerdict(asset string, insufficient, anomalous bool, severity string, z float64) {
	if r == nil {
		return
	}
	outcome := "normal"
	switch {
	case insufficient:
		outcome = "insufficient"
	case anomalous:
		outcome = "anomalous"
		r.anomalies.WithLabelValues(asset, severity).Inc()
	}
	r.observations.WithLabelValues(asset, outcome).Inc()
	if !insufficient {
		r.zscore.WithLabelValues(asset).Set(z)
	}
}

// FlagSuppressed counts a cooldown-suppressed flag.
func (r *Recorder) FlagSuppressed(asset string) {
	if r == nil {
		return
	}
	r.suppressed.WithLabelValues(asset).Inc()
}

// LedgerAction records a dispatch result.
func (r *Recorder) LedgerAction(asset, kind string, ok bool) {
	if r == nil {
		return
	}
	result := "confirmed"
	if !ok {
		result = "failed"
	}
	r.actions.WithLabelValues(asset, kind, result).Inc()
}

// SetFlagged mirrors the asset's confirmed flag state.
func (r *Recorder) SetFlagged(asset string, flagged bool) {
	if r == nil {
		return
	}
	v := 0.0
	if flagged {
		v = 1
	}
	r.flagged.WithLabelValues(asset).Set(v)
}

// FetchFailed counts a price fetch failure.
func (r *Recorder) FetchFailed(asset string) {
	if r == nil {
		return
	}
	r.fetchFailures.WithLabelValues(asset).Inc()
}

// SinkFailed counts a status publish failure.
func (r *Recorder) SinkFailed(asset string) {
	if r == nil {
		return
	}
	r.sinkFailures.WithLabelValues(asset).Inc()
}

// CycleDone records a cycle's wall time.
func (r *Recorder) CycleDone(d time.Duration) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(d.Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/galaxycache/internal/coherence"
)

// CoherenceMetrics is the Prometheus-backed implementation of
// coherence.OpRecorder, plus gauges sampled periodically from
// coherence.Table by a Sampler. A nil *CoherenceMetrics is always
// safe to use (see Registry).
type CoherenceMetrics struct {
	opTotal    *prometheus.CounterVec
	opErrors   *prometheus.CounterVec
	opDuration *prometheus.HistogramVec

	linesOwned       prometheus.Gauge
	linesShared      prometheus.Gauge
	evictionsTotal   prometheus.Gauge
	allocationsTotal prometheus.Gauge
	pendingOpsDepth  prometheus.Gauge
	pendingMsgsDepth prometheus.Gauge
}

// NewCoherenceMetrics registers the coherence collectors against reg.
// Returns nil when reg is nil (metrics disabled), mirroring the
// teacher's NewCacheMetrics/NewS3Metrics convention.
func NewCoherenceMetrics(reg *Registry) *CoherenceMetrics {
	if !reg.IsEnabled() {
		return nil
	}
	r := reg.Prometheus()

	return &CoherenceMetrics{
		opTotal: promauto.With(r).NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxycache_op_total",
				Help: "Total number of DoOp calls by op kind",
			},
			[]string{"kind"},
		),
		opErrors: promauto.With(r).NewCounterVec(
			prometheus.CounterOpts{
				Name: "galaxycache_op_errors_total",
				Help: "Total number of DoOp calls that returned an error, by op kind",
			},
			[]string{"kind"},
		),
		opDuration: promauto.With(r).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "galaxycache_op_duration_seconds",
				Help: "Duration of DoOp calls in seconds, by op kind",
				Buckets: []float64{
					0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
				},
			},
			[]string{"kind"},
		),
		linesOwned: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "galaxycache_lines_owned",
			Help: "Current number of lines in the O or E state (owned by this node)",
		}),
		linesShared: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "galaxycache_lines_shared",
			Help: "Current number of lines in the S state (shared, eviction-eligible)",
		}),
		evictionsTotal: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "galaxycache_evictions_total",
			Help: "Cumulative number of shared-line evictions since process start",
		}),
		allocationsTotal: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "galaxycache_allocations_total",
			Help: "Cumulative number of lines allocated since process start",
		}),
		pendingOpsDepth: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "galaxycache_pending_ops_depth",
			Help: "Sum of pending-op queue depths across all tracked lines",
		}),
		pendingMsgsDepth: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "galaxycache_pending_msgs_depth",
			Help: "Sum of pending-message queue depths across all tracked lines",
		}),
	}
}

var _ coherence.OpRecorder = (*CoherenceMetrics)(nil)

// ObserveOp implements coherence.OpRecorder.
func (m *CoherenceMetrics) ObserveOp(kind string, _ coherence.LineID, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.opTotal.WithLabelValues(kind).Inc()
	m.opDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		m.opErrors.WithLabelValues(kind).Inc()
	}
}

// SampleTable refreshes the line-count and pending-queue gauges from a
// live coherence.Table snapshot. Called periodically by a Sampler, not
// on every op, since walking every line's queue depth is O(lines).
func (m *CoherenceMetrics) SampleTable(t *coherence.Table) {
	if m == nil || t == nil {
		return
	}

	tm := t.Metrics()
	m.linesOwned.Set(float64(tm.Owned))
	m.linesShared.Set(float64(tm.Shared))
	m.evictionsTotal.Set(float64(tm.Evictions))
	m.allocationsTotal.Set(float64(tm.Allocations))

	var pendingOps, pendingMsgs int
	t.ForEach(func(l *coherence.Line) {
		ops, msgs := l.PendingDepth()
		pendingOps += ops
		pendingMsgs += msgs
	})
	m.pendingOpsDepth.Set(float64(pendingOps))
	m.pendingMsgsDepth.Set(float64(pendingMsgs))
}

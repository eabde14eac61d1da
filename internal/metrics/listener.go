package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/galaxycache/internal/coherence"
)

// listenerMetrics decorates a coherence.CacheListener with event
// counters, so eviction/invalidation/receive rates are true
// event-driven counters rather than the periodic gauge snapshots
// CoherenceMetrics.SampleTable produces from coherence.Table.
type listenerMetrics struct {
	next       coherence.CacheListener
	invalidate prometheus.Counter
	receive    prometheus.Counter
	evict      prometheus.Counter
}

// WrapListener returns a CacheListener that counts callbacks before
// forwarding them to next (coherence.NoopCacheListener{} if next is
// nil). Returns next unmodified when reg is disabled.
func WrapListener(reg *Registry, next coherence.CacheListener) coherence.CacheListener {
	if !reg.IsEnabled() {
		if next == nil {
			return coherence.NoopCacheListener{}
		}
		return next
	}
	if next == nil {
		next = coherence.NoopCacheListener{}
	}
	r := reg.Prometheus()

	return &listenerMetrics{
		next: next,
		invalidate: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "galaxycache_listener_invalidated_total",
			Help: "Total number of CacheListener.Invalidated callbacks",
		}),
		receive: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "galaxycache_listener_received_total",
			Help: "Total number of CacheListener.Received callbacks",
		}),
		evict: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "galaxycache_listener_evicted_total",
			Help: "Total number of CacheListener.Evicted callbacks",
		}),
	}
}

var _ coherence.CacheListener = (*listenerMetrics)(nil)

func (l *listenerMetrics) Invalidated(id coherence.LineID) {
	l.invalidate.Inc()
	l.next.Invalidated(id)
}

func (l *listenerMetrics) Received(id coherence.LineID, version uint64, data []byte) {
	l.receive.Inc()
	l.next.Received(id, version, data)
}

func (l *listenerMetrics) Evicted(id coherence.LineID) {
	l.evict.Inc()
	l.next.Evicted(id)
}

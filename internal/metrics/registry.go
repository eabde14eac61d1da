// Package metrics adapts the coherence engine's counters and
// callbacks into Prometheus collectors, the same "nil-safe optional
// sink" shape the teacher uses for its own cache/NFS/S3 metrics: every
// method checks for a nil receiver so a disabled Registry costs a
// branch, not a missing-metrics panic.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry wraps a Prometheus registry that may or may not be
// collecting, so callers never need their own enabled/disabled branch.
type Registry struct {
	reg *prometheus.Registry
}

// New returns a live Registry when enabled, or nil when not — passing
// a nil *Registry anywhere in this package is always safe.
func New(enabled bool) *Registry {
	if !enabled {
		return nil
	}
	return &Registry{reg: prometheus.NewRegistry()}
}

// Prometheus returns the underlying collector registry for mounting an
// HTTP handler (promhttp.HandlerFor), or nil if metrics are disabled.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// IsEnabled reports whether this Registry is actually collecting.
func (r *Registry) IsEnabled() bool {
	return r != nil
}

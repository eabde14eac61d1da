package metrics

import (
	"context"
	"time"

	"github.com/marmos91/galaxycache/internal/coherence"
)

// DefaultSampleInterval is used when Sampler is constructed with a
// non-positive interval.
const DefaultSampleInterval = 10 * time.Second

// Sampler periodically refreshes CoherenceMetrics' table-derived
// gauges. Same ticker/stop/stopped lifecycle shape as
// pkg/controlplane/runtime.SettingsWatcher.
type Sampler struct {
	metrics  *CoherenceMetrics
	table    *coherence.Table
	interval time.Duration

	stopCh  chan struct{}
	stopped chan struct{}
}

// NewSampler builds a Sampler. If m is nil (metrics disabled), Start is
// a no-op so callers don't need their own enabled check.
func NewSampler(m *CoherenceMetrics, table *coherence.Table, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		metrics:  m,
		table:    table,
		interval: interval,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the background sampling goroutine. Returns immediately
// if m was nil at construction.
func (s *Sampler) Start(ctx context.Context) {
	if s.metrics == nil {
		close(s.stopped)
		return
	}

	go func() {
		defer close(s.stopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.metrics.SampleTable(s.table)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.metrics.SampleTable(s.table)
			}
		}
	}()
}

// Stop signals the sampling goroutine to stop and waits for it to exit.
func (s *Sampler) Stop() {
	select {
	case <-s.stopCh:
		return
	default:
		close(s.stopCh)
	}
	<-s.stopped
}

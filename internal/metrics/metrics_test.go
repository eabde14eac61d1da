package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/marmos91/galaxycache/internal/coherence"
)

func TestRegistry_DisabledReturnsNil(t *testing.T) {
	r := New(false)
	if r.IsEnabled() {
		t.Fatal("disabled registry reports IsEnabled() = true")
	}
	if r.Prometheus() != nil {
		t.Fatal("disabled registry returned a non-nil prometheus.Registry")
	}
}

func TestRegistry_EnabledIsUsable(t *testing.T) {
	r := New(true)
	if !r.IsEnabled() {
		t.Fatal("enabled registry reports IsEnabled() = false")
	}
	if r.Prometheus() == nil {
		t.Fatal("enabled registry returned a nil prometheus.Registry")
	}
}

func TestNewCoherenceMetrics_NilWhenDisabled(t *testing.T) {
	if m := NewCoherenceMetrics(New(false)); m != nil {
		t.Fatal("NewCoherenceMetrics(disabled) returned non-nil")
	}
}

func TestCoherenceMetrics_ObserveOpNilSafe(t *testing.T) {
	var m *CoherenceMetrics
	m.ObserveOp("GET", 1, time.Millisecond, nil) // must not panic
}

func TestCoherenceMetrics_ObserveOpCountsErrors(t *testing.T) {
	m := NewCoherenceMetrics(New(true))

	m.ObserveOp("GET", 1, time.Millisecond, nil)
	m.ObserveOp("GET", 1, time.Millisecond, errors.New("boom"))

	metric := &dto.Metric{}
	if err := m.opErrors.WithLabelValues("GET").Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Errorf("opErrors total = %v, want 1", got)
	}
}

func TestWrapListener_DisabledReturnsNextUnwrapped(t *testing.T) {
	next := coherence.NoopCacheListener{}
	got := WrapListener(New(false), next)
	if got != coherence.CacheListener(next) {
		t.Error("WrapListener(disabled) should return next unmodified")
	}
}

func TestWrapListener_CountsEvictions(t *testing.T) {
	l := WrapListener(New(true), nil)
	l.Evicted(5)
	l.Evicted(6)

	lm := l.(*listenerMetrics)
	metric := &dto.Metric{}
	if err := lm.evict.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Errorf("evict total = %v, want 2", got)
	}
}

func TestSampler_SamplesTableGauges(t *testing.T) {
	table := coherence.NewTable(0, nil, nil, nil, false, false)
	table.GetOrCreate(1)
	table.MarkOwned(1)

	m := NewCoherenceMetrics(New(true))
	sampler := NewSampler(m, table, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	sampler.Start(ctx)
	defer sampler.Stop()
	defer cancel()

	time.Sleep(30 * time.Millisecond)

	metric := &dto.Metric{}
	if err := m.linesOwned.Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got < 1 {
		t.Errorf("linesOwned = %v, want >= 1", got)
	}
}

func TestSampler_NilMetricsStartIsNoop(t *testing.T) {
	table := coherence.NewTable(0, nil, nil, nil, false, false)
	sampler := NewSampler(nil, table, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.Start(ctx)
	sampler.Stop() // must return promptly, not block forever
}

package coherence

import "time"

// OpRecorder observes completed local operations (spec section 5's
// DoOp). It is the engine's only metrics seam; everything else an
// operator wants (per-state line counts, eviction rate, pending-queue
// depth) is derived from Table.Metrics and the CacheListener callbacks
// already threaded through NodeDeps, so adding a recorder here is
// enough to also cover op latency without a metrics dependency in the
// hot path itself.
type OpRecorder interface {
	// ObserveOp is called once per DoOp call, after the op has either
	// resolved or failed. kind is the op's OpKind name, duration
	// spans from DoOp's entry to its return, and err is DoOp's own
	// return error (nil on success).
	ObserveOp(kind string, lineID LineID, duration time.Duration, err error)
}

// NoopOpRecorder discards everything; it is the default when no
// recorder is supplied, the same pattern as NoopCacheListener.
type NoopOpRecorder struct{}

func (NoopOpRecorder) ObserveOp(string, LineID, time.Duration, error) {}

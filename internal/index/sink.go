package index

import "github.com/grepwise/grepwise/internal/model"

// Sink receives every record the Index Engine successfully writes. The
// real-time broadcaster subscribes through this interface; the engine
// never references the broadcaster directly (spec §9: break the
// Index<->RealTimeUpdate cycle with a one-way sink, no back-pointer).
type Sink interface {
	Emit(records []model.LogRecord)
}

// noopSink discards every record; used when no sink is configured.
type noopSink struct{}

func (noopSink) Emit([]model.LogRecord) {}

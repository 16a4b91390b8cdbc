// Package ingest holds the collaborator types shared by every
// Ingestion Driver (C8): the Sink a driver enqueues parsed records
// into, which is the Log Buffer (C2) by default or the Index Engine
// (C3) directly when buffering is disabled for testing.
package ingest

import (
	"context"

	"github.com/grepwise/grepwise/internal/model"
)

// Sink accepts one parsed record at a time.
type Sink interface {
	Add(ctx context.Context, record model.LogRecord) bool
}

// Indexer is the subset of the Index Engine a direct (buffer-bypassing)
// sink writes through.
type Indexer interface {
	Index(ctx context.Context, batch []model.LogRecord) (int, error)
}

// DirectSink adapts an Indexer to the Sink interface, writing each
// record as its own single-record batch. Used when a source disables
// buffering.
type DirectSink struct {
	Indexer Indexer
}

func (d DirectSink) Add(ctx context.Context, record model.LogRecord) bool {
	n, err := d.Indexer.Index(ctx, []model.LogRecord{record})
	return err == nil && n > 0
}

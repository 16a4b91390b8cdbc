// Package buffer implements the Log Buffer (C2): a bounded, mutex-guarded
// queue that decouples ingestion rate from the Index Engine's write rate.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/grepwise/grepwise/infrastructure/metrics"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obslog"
)

// Indexer is the collaborator a Buffer flushes batches into. The Index
// Engine (C3) implements this.
type Indexer interface {
	Index(ctx context.Context, batch []model.LogRecord) (int, error)
}

// backpressureWait bounds how long Add blocks when the buffer is full
// and a flush is already draining it.
const backpressureWait = 10 * time.Millisecond

// Config controls a Buffer's capacity and flush cadence.
type Config struct {
	MaxSize         int
	FlushInterval   time.Duration
}

// Buffer is a bounded queue of LogRecord awaiting indexing.
type Buffer struct {
	mu       sync.Mutex
	records  []model.LogRecord
	flushing bool

	maxSize       int
	flushInterval time.Duration
	indexer       Indexer
	log           *obslog.Component

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Buffer that flushes into indexer.
func New(cfg Config, indexer Indexer, log *obslog.Component) *Buffer {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Buffer{
		records:       make([]model.LogRecord, 0, maxSize),
		maxSize:       maxSize,
		flushInterval: interval,
		indexer:       indexer,
		log:           log,
	}
}

// Add appends one record, blocking briefly for backpressure if the
// buffer is full and a flush is already underway. It triggers a
// synchronous flush when the append fills the buffer to capacity.
func (b *Buffer) Add(ctx context.Context, record model.LogRecord) bool {
	deadline := time.Now().Add(backpressureWait)
	for {
		b.mu.Lock()
		if len(b.records) < b.maxSize || !b.flushing {
			b.records = append(b.records, record)
			triggersFlush := len(b.records) >= b.maxSize
			size := len(b.records)
			b.mu.Unlock()
			metrics.Global().SetBufferSize(size)
			if triggersFlush {
				b.Flush(ctx)
			}
			return true
		}
		b.mu.Unlock()
		if time.Now().After(deadline) {
			b.mu.Lock()
			b.records = append(b.records, record)
			b.mu.Unlock()
			return true
		}
		time.Sleep(time.Millisecond)
	}
}

// AddAll appends records in order within one call, returning how many
// were accepted. May trigger one or more synchronous flushes.
func (b *Buffer) AddAll(ctx context.Context, records []model.LogRecord) int {
	accepted := 0
	for _, r := range records {
		if b.Add(ctx, r) {
			accepted++
		}
	}
	return accepted
}

// Flush drains the current contents into one batch and hands it to the
// Indexer. On indexer failure the batch is dropped (logged, and counted
// in the buffer-drop metric here); it is not retried in place.
func (b *Buffer) Flush(ctx context.Context) int {
	b.mu.Lock()
	if len(b.records) == 0 {
		b.mu.Unlock()
		return 0
	}
	batch := b.records
	b.records = make([]model.LogRecord, 0, b.maxSize)
	b.flushing = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.flushing = false
		b.mu.Unlock()
	}()

	indexed, err := b.indexer.Index(ctx, batch)
	if err != nil {
		metrics.Global().RecordBufferDrop("grepwise", len(batch))
		if b.log != nil {
			b.log.Error(ctx, "buffer flush dropped batch after indexer failure", err, map[string]interface{}{
				"batch_size": len(batch),
			})
		}
		return 0
	}
	metrics.Global().SetBufferSize(0)
	return indexed
}

// Size returns the number of records currently queued.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Start runs the background flush scheduler until Stop is called or ctx
// is canceled.
func (b *Buffer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.stopCh != nil {
		b.mu.Unlock()
		return
	}
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	ticker := time.NewTicker(b.flushInterval)
	go func() {
		defer ticker.Stop()
		defer close(b.doneCh)
		for {
			select {
			case <-ticker.C:
				b.Flush(ctx)
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the flush scheduler to exit and waits for it to do so.
func (b *Buffer) Stop() {
	b.mu.Lock()
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

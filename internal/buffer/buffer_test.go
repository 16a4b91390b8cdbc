package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepwise/grepwise/internal/model"
)

type fakeIndexer struct {
	mu      sync.Mutex
	batches [][]model.LogRecord
	failNext bool
}

func (f *fakeIndexer) Index(_ context.Context, batch []model.LogRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return 0, errors.New("index failure")
	}
	f.batches = append(f.batches, batch)
	return len(batch), nil
}

func (f *fakeIndexer) totalIndexed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func rec(id string) model.LogRecord {
	return model.LogRecord{ID: id, Timestamp: 1, Level: model.LevelInfo, Source: "s"}
}

func TestAddAllThenFlushConservation(t *testing.T) {
	idx := &fakeIndexer{}
	b := New(Config{MaxSize: 100, FlushInterval: time.Hour}, idx, nil)
	ctx := context.Background()

	records := []model.LogRecord{rec("a"), rec("b"), rec("c")}
	accepted := b.AddAll(ctx, records)
	assert.Equal(t, 3, accepted)

	flushed := b.Flush(ctx)
	assert.Equal(t, 3, flushed)
	assert.Equal(t, 3, idx.totalIndexed())
	assert.Equal(t, 0, b.Size())
}

func TestFlushOnEmptyBufferIsNoop(t *testing.T) {
	idx := &fakeIndexer{}
	b := New(Config{MaxSize: 10, FlushInterval: time.Hour}, idx, nil)
	assert.Equal(t, 0, b.Flush(context.Background()))
}

func TestSizeTriggeredSynchronousFlush(t *testing.T) {
	idx := &fakeIndexer{}
	b := New(Config{MaxSize: 2, FlushInterval: time.Hour}, idx, nil)
	ctx := context.Background()

	b.Add(ctx, rec("a"))
	assert.Equal(t, 1, b.Size())
	b.Add(ctx, rec("b")) // fills to capacity, triggers synchronous flush
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, 2, idx.totalIndexed())
}

func TestFlushFailureDropsBatchWithoutRetry(t *testing.T) {
	idx := &fakeIndexer{failNext: true}
	b := New(Config{MaxSize: 10, FlushInterval: time.Hour}, idx, nil)
	ctx := context.Background()

	b.AddAll(ctx, []model.LogRecord{rec("a"), rec("b")})
	flushed := b.Flush(ctx)
	assert.Equal(t, 0, flushed)
	assert.Equal(t, 0, idx.totalIndexed())
	// The batch is gone, not requeued.
	assert.Equal(t, 0, b.Size())
}

func TestBackgroundFlusherRunsOnInterval(t *testing.T) {
	idx := &fakeIndexer{}
	b := New(Config{MaxSize: 100, FlushInterval: 10 * time.Millisecond}, idx, nil)
	ctx := context.Background()
	b.Add(ctx, rec("a"))

	b.Start(ctx)
	defer b.Stop()

	require.Eventually(t, func() bool {
		return idx.totalIndexed() == 1
	}, 200*time.Millisecond, 5*time.Millisecond)
}

func TestStopHaltsBackgroundFlusher(t *testing.T) {
	idx := &fakeIndexer{}
	b := New(Config{MaxSize: 100, FlushInterval: 5 * time.Millisecond}, idx, nil)
	b.Start(context.Background())
	b.Stop()

	b.Add(context.Background(), rec("a"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, idx.totalIndexed(), "flusher should not run after Stop")
}

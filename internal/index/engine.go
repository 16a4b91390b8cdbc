// Package index implements the Index Engine (C3): a full-text inverted
// index with structured field filters over LogRecord, partitioned by
// time and backed by the Search Cache (C4) and Archive Store (C5).
package index

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/grepwise/grepwise/infrastructure/metrics"
	"github.com/grepwise/grepwise/internal/archive"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obserr"
	"github.com/grepwise/grepwise/internal/obslog"
	"github.com/grepwise/grepwise/internal/searchcache"
)

// defaultMaxResultsPerPartition bounds how many records a single
// partition contributes to a search result, per spec §4.3 step 4.
const defaultMaxResultsPerPartition = 10000

// defaultSearchTimeout is the hard per-evaluation deadline applied when
// the caller's context carries none.
const defaultSearchTimeout = 10 * time.Second

// Engine is the Index Engine. Construct with New; all collaborators
// (cache, archive store, partition config) are passed in explicitly,
// never reached for through a global (spec §9 "dependency injection via
// setters" design note: push it into the constructor instead).
type Engine struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	idIndex    map[string]string // record id -> partition key

	config  model.PartitionConfiguration
	cache   *searchcache.Cache
	archive *archive.Store
	sink    Sink
	log     *obslog.Component

	maxResultsPerPartition int
	searchPool             chan struct{} // bounded concurrency for parallel partition search

	cronSched *cron.Cron
}

// New constructs an Engine. cache and archiveStore may be nil (cache
// disabled / archiving unused); sink may be nil (no real-time fan-out).
func New(cfg model.PartitionConfiguration, cache *searchcache.Cache, archiveStore *archive.Store, sink Sink, log *obslog.Component) *Engine {
	if sink == nil {
		sink = noopSink{}
	}
	poolSize := runtime.NumCPU()
	if poolSize < 1 {
		poolSize = 1
	}
	return &Engine{
		partitions:             make(map[string]*partition),
		idIndex:                make(map[string]string),
		config:                 cfg,
		cache:                  cache,
		archive:                archiveStore,
		sink:                   sink,
		log:                    log,
		maxResultsPerPartition: defaultMaxResultsPerPartition,
		searchPool:             make(chan struct{}, poolSize),
	}
}

// Index writes a batch of records, routing each to the partition for
// its event timestamp. Cache entries overlapping the batch's time range
// are invalidated first. Returns the number of records written;
// returns an error only when every record in a non-empty batch failed
// to write (a total loss, which the Log Buffer treats as a dropped
// batch).
func (e *Engine) Index(ctx context.Context, batch []model.LogRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	minTS, maxTS := batch[0].Timestamp, batch[0].Timestamp
	byPartition := make(map[string][]model.LogRecord)
	bounds := make(map[string][2]int64)
	for _, r := range batch {
		if r.Timestamp < minTS {
			minTS = r.Timestamp
		}
		if r.Timestamp > maxTS {
			maxTS = r.Timestamp
		}
		key, start, end := bucketFor(e.config.Type, r.Timestamp)
		byPartition[key] = append(byPartition[key], r)
		bounds[key] = [2]int64{start, end}
	}

	if e.cache != nil {
		e.cache.InvalidateRange(minTS, maxTS)
	}

	total := 0
	var written []model.LogRecord
	var lastErr error
	for key, records := range byPartition {
		b := bounds[key]
		p := e.getOrCreatePartition(key, b[0], b[1])
		n, err := p.write(records)
		if err != nil {
			lastErr = err
			if e.log != nil {
				e.log.Error(ctx, "partition write failed", err, map[string]interface{}{"partition": key})
			}
			continue
		}
		e.mu.Lock()
		for _, r := range records {
			e.idIndex[r.ID] = key
		}
		e.mu.Unlock()
		total += n
		written = append(written, records...)
	}

	metrics.Global().SetPartitionsActive(e.partitionCount())
	if len(written) > 0 {
		e.sink.Emit(written)
	}

	if total == 0 && lastErr != nil {
		return 0, obserr.TransientIOErr("index", lastErr)
	}
	return total, nil
}

func (e *Engine) getOrCreatePartition(key string, start, end int64) *partition {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.partitions[key]
	if !ok {
		p = newPartition(key, start, end, e.config.BaseDirectory)
		e.partitions[key] = p
	}
	return p
}

func (e *Engine) partitionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.partitions)
}

// candidatePartitions returns the partitions whose time range
// intersects [startTime, endTime]; nil bounds mean unbounded (all
// active partitions).
func (e *Engine) candidatePartitions(startTime, endTime *int64) []*partition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*partition
	for _, p := range e.partitions {
		if startTime != nil && p.end <= *startTime {
			continue
		}
		if endTime != nil && p.start > *endTime {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Search executes queryStr (regex or native boolean query) against
// every partition intersecting [startTime, endTime], merges the
// results, and returns them sorted by timestamp descending.
func (e *Engine) Search(ctx context.Context, queryStr string, isRegex bool, startTime, endTime *int64) ([]model.LogRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultSearchTimeout)
	defer cancel()
	start := time.Now()
	defer func() { metrics.Global().RecordSearch("grepwise", time.Since(start)) }()

	key := searchcache.Key{QueryString: queryStr, IsRegex: isRegex, StartTime: startTime, EndTime: endTime}
	if e.cache != nil {
		if cached, hit := e.cache.Get(key); hit {
			metrics.Global().RecordSearchCacheOutcome("grepwise", "hit")
			return cached, nil
		}
	}

	var re *regexp.Regexp
	var query compiledQuery
	if isRegex {
		compiled, err := regexp.Compile(queryStr)
		if err != nil {
			return nil, obserr.ParseFailureErr(fmt.Sprintf("invalid regex: %v", err))
		}
		re = compiled
	} else {
		query = compileQuery(queryStr)
	}

	partitions := e.candidatePartitions(startTime, endTime)

	type result struct {
		records []model.LogRecord
	}
	results := make([]result, len(partitions))
	var wg sync.WaitGroup
	for i, p := range partitions {
		wg.Add(1)
		go func(i int, p *partition) {
			defer wg.Done()
			select {
			case e.searchPool <- struct{}{}:
				defer func() { <-e.searchPool }()
			case <-ctx.Done():
				return
			}
			results[i] = result{records: e.searchPartition(p, re, query, startTime, endTime)}
		}(i, p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, obserr.TimeoutErr("search")
	}

	var merged []model.LogRecord
	for _, r := range results {
		merged = append(merged, r.records...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp > merged[j].Timestamp })

	if e.cache != nil {
		e.cache.Put(key, merged)
	}
	metrics.Global().RecordSearchCacheOutcome("grepwise", "miss")
	return merged, nil
}

func (e *Engine) searchPartition(p *partition, re *regexp.Regexp, query compiledQuery, startTime, endTime *int64) []model.LogRecord {
	var candidates []model.LogRecord
	switch {
	case re != nil:
		candidates = p.searchRegex(re)
	case query.matchAll:
		candidates = p.all()
	default:
		// searchTokens returns every id when there are no free-text
		// terms, so a pure field:value query still scans the partition.
		ids := p.searchTokens(query.freeTextTerms())
		for _, id := range ids {
			if r, ok := p.findByID(id); ok {
				candidates = append(candidates, r)
			}
		}
	}

	var out []model.LogRecord
	for _, r := range candidates {
		if startTime != nil && r.Timestamp < *startTime {
			continue
		}
		if endTime != nil && r.Timestamp > *endTime {
			continue
		}
		if re == nil && !query.matchesFields(r) {
			continue
		}
		out = append(out, r)
		if len(out) >= e.maxResultsPerPartition {
			break
		}
	}
	return out
}

// FindByID returns the record with the given id, if present.
func (e *Engine) FindByID(id string) (model.LogRecord, bool) {
	e.mu.RLock()
	key, ok := e.idIndex[id]
	if !ok {
		e.mu.RUnlock()
		return model.LogRecord{}, false
	}
	p := e.partitions[key]
	e.mu.RUnlock()
	if p == nil {
		return model.LogRecord{}, false
	}
	return p.findByID(id)
}

// FindByLevel returns every record at the given level, across all
// partitions.
func (e *Engine) FindByLevel(level model.Level) []model.LogRecord {
	var out []model.LogRecord
	for _, p := range e.snapshotPartitions() {
		for _, r := range p.all() {
			if r.Level == level {
				out = append(out, r)
			}
		}
	}
	return out
}

// FindBySource returns every record from the given source, across all
// partitions.
func (e *Engine) FindBySource(source string) []model.LogRecord {
	var out []model.LogRecord
	for _, p := range e.snapshotPartitions() {
		for _, r := range p.all() {
			if r.Source == source {
				out = append(out, r)
			}
		}
	}
	return out
}

func (e *Engine) snapshotPartitions() []*partition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*partition, 0, len(e.partitions))
	for _, p := range e.partitions {
		out = append(out, p)
	}
	return out
}

// DeleteLogsOlderThan removes every record with timestamp < cutoffMs.
// Partitions wholly older than the cutoff are archived (if enabled) and
// dropped entirely; partitions straddling the cutoff have matching
// documents deleted in place. Returns the number of records removed.
func (e *Engine) DeleteLogsOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	var removedTotal int64

	e.mu.Lock()
	var wholly, straddling []*partition
	for _, p := range e.partitions {
		if p.end <= cutoffMs {
			wholly = append(wholly, p)
		} else if p.start < cutoffMs {
			straddling = append(straddling, p)
		}
	}
	e.mu.Unlock()

	for _, p := range wholly {
		records := p.all()
		if e.config.AutoArchivePartitions && e.archive != nil {
			e.archive.ArchiveLogsBeforeDeletion(ctx, records)
		}
		removedTotal += int64(len(records))
		e.removePartition(p)
	}

	for _, p := range straddling {
		removed := p.deleteOlderThan(cutoffMs)
		if e.config.AutoArchivePartitions && e.archive != nil && len(removed) > 0 {
			e.archive.ArchiveLogsBeforeDeletion(ctx, removed)
		}
		e.mu.Lock()
		for _, r := range removed {
			delete(e.idIndex, r.ID)
		}
		e.mu.Unlock()
		removedTotal += int64(len(removed))
	}

	if e.cache != nil {
		e.cache.InvalidateRange(0, cutoffMs)
	}
	metrics.Global().SetPartitionsActive(e.partitionCount())
	return removedTotal, nil
}

func (e *Engine) removePartition(p *partition) {
	e.mu.Lock()
	delete(e.partitions, p.key)
	for id, key := range e.idIndex {
		if key == p.key {
			delete(e.idIndex, id)
		}
	}
	e.mu.Unlock()
	_ = p.removeDir()
}

// houseKeep closes the oldest partitions while the active count exceeds
// maxActivePartitions, archiving them first if configured.
func (e *Engine) houseKeep(ctx context.Context) {
	for {
		e.mu.RLock()
		over := e.config.MaxActivePartitions > 0 && len(e.partitions) > e.config.MaxActivePartitions
		var oldest *partition
		if over {
			for _, p := range e.partitions {
				if oldest == nil || p.start < oldest.start {
					oldest = p
				}
			}
		}
		e.mu.RUnlock()

		if !over || oldest == nil {
			return
		}
		if e.config.AutoArchivePartitions && e.archive != nil {
			e.archive.ArchiveLogsBeforeDeletion(ctx, oldest.all())
		}
		e.removePartition(oldest)
	}
}

// StartHousekeeping schedules the partition housekeeper on a cron
// expression ("@every <interval>"), returning a stop function.
func (e *Engine) StartHousekeeping(ctx context.Context, interval time.Duration) (func(), error) {
	if interval <= 0 {
		interval = time.Hour
	}
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval.String()), func() {
		e.houseKeep(ctx)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	e.cronSched = c
	return func() { c.Stop() }, nil
}

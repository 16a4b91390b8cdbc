// Package archive implements the Archive Store (C5): compresses
// retired log records into a ZIP file plus a JSON manifest before the
// Index Engine deletes them.
package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grepwise/grepwise/infrastructure/resilience"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obslog"
)

// timeLayout matches the documented archive_<yyyyMMddHHmmss>_<uuid>.zip
// filename pattern.
const timeLayout = "20060102150405"

// Store writes archive ZIPs under a base directory and tracks their
// metadata for later lookup/deletion.
type Store struct {
	mu        sync.RWMutex
	baseDir   string
	enabled   bool
	metadata  map[string]model.ArchiveMetadata
	log       *obslog.Component
	retry     resilience.RetryConfig
	nowFn     func() time.Time
}

// New constructs a Store. When enabled is false, ArchiveLogsBeforeDeletion
// is a no-op that reports success, matching spec §4.5.
func New(baseDir string, enabled bool, log *obslog.Component) *Store {
	return &Store{
		baseDir:  baseDir,
		enabled:  enabled,
		metadata: make(map[string]model.ArchiveMetadata),
		log:      log,
		retry:    resilience.DefaultRetryConfig(),
		nowFn:    time.Now,
	}
}

// ArchiveLogsBeforeDeletion writes records to a new ZIP archive and
// records its ArchiveMetadata. Returns true on success or when
// archiving is disabled; false on I/O failure (the caller proceeds
// with deletion regardless, per spec, but can alert on the false).
func (s *Store) ArchiveLogsBeforeDeletion(ctx context.Context, records []model.LogRecord) bool {
	if !s.enabled {
		return true
	}
	if len(records) == 0 {
		return true
	}

	id := uuid.NewString()
	filename := fmt.Sprintf("archive_%s_%s.zip", s.nowFn().UTC().Format(timeLayout), id)
	path := filepath.Join(s.baseDir, filename)

	err := resilience.Retry(ctx, s.retry, func() error {
		return writeZip(path, records)
	})
	if err != nil {
		if s.log != nil {
			s.log.Error(ctx, "archive write failed", err, map[string]interface{}{"filename": filename})
		}
		return false
	}

	info, statErr := os.Stat(path)
	var size int64
	if statErr == nil {
		size = info.Size()
	}

	meta := model.ArchiveMetadata{
		ID:             id,
		Filename:       filename,
		CreatedAt:      s.nowFn(),
		LogCount:       len(records),
		SizeBytes:      size,
		TimeRangeStart: minTimestamp(records),
		TimeRangeEnd:   maxTimestamp(records),
	}

	if err := writeManifest(s.baseDir, meta); err != nil {
		if s.log != nil {
			s.log.Error(ctx, "archive manifest write failed", err, map[string]interface{}{"id": id})
		}
		return false
	}

	s.mu.Lock()
	s.metadata[id] = meta
	s.mu.Unlock()
	return true
}

// DeleteArchive removes an archive's ZIP file and its metadata. File
// removal happens first; metadata removal is best-effort. An absent
// archive id is treated as already gone (idempotent).
func (s *Store) DeleteArchive(id string) error {
	s.mu.Lock()
	meta, ok := s.metadata[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	zipPath := filepath.Join(s.baseDir, meta.Filename)
	if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = os.Remove(manifestPath(s.baseDir, id))

	s.mu.Lock()
	delete(s.metadata, id)
	s.mu.Unlock()
	return nil
}

// FindAll returns every known archive's metadata, oldest first.
func (s *Store) FindAll() []model.ArchiveMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ArchiveMetadata, 0, len(s.metadata))
	for _, m := range s.metadata {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func minTimestamp(records []model.LogRecord) int64 {
	min := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp < min {
			min = r.Timestamp
		}
	}
	return min
}

func maxTimestamp(records []model.LogRecord) int64 {
	max := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp > max {
			max = r.Timestamp
		}
	}
	return max
}

func writeZip(path string, records []model.LogRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for i, r := range records {
		w, err := zw.Create(fmt.Sprintf("record_%06d.json", i))
		if err != nil {
			zw.Close()
			return err
		}
		if err := json.NewEncoder(w).Encode(r); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func manifestPath(baseDir, id string) string {
	return filepath.Join(baseDir, fmt.Sprintf("meta_%s.json", id))
}

func writeManifest(baseDir string, meta model.ArchiveMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(manifestPath(baseDir, meta.ID), data, 0o644)
}

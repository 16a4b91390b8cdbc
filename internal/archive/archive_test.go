package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepwise/grepwise/internal/model"
)

func sampleRecords() []model.LogRecord {
	return []model.LogRecord{
		{ID: "a", Timestamp: 100, Level: model.LevelInfo, Message: "one"},
		{ID: "b", Timestamp: 300, Level: model.LevelError, Message: "two"},
	}
}

func TestArchiveWritesZipAndMetadata(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true, nil)

	ok := s.ArchiveLogsBeforeDeletion(context.Background(), sampleRecords())
	require.True(t, ok)

	metas := s.FindAll()
	require.Len(t, metas, 1)
	assert.Equal(t, 2, metas[0].LogCount)
	assert.Equal(t, int64(100), metas[0].TimeRangeStart)
	assert.Equal(t, int64(300), metas[0].TimeRangeEnd)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawZip bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".zip" {
			sawZip = true
			assert.Regexp(t, `^archive_\d{14}_[0-9a-f-]+\.zip$`, e.Name())
		}
	}
	assert.True(t, sawZip)
}

func TestArchiveZipContainsOneJSONRecordPerEntry(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true, nil)
	require.True(t, s.ArchiveLogsBeforeDeletion(context.Background(), sampleRecords()))

	metas := s.FindAll()
	zr, err := zip.OpenReader(filepath.Join(dir, metas[0].Filename))
	require.NoError(t, err)
	defer zr.Close()
	assert.Len(t, zr.File, 2)
}

func TestDisabledArchiveReturnsTrueWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false, nil)
	ok := s.ArchiveLogsBeforeDeletion(context.Background(), sampleRecords())
	assert.True(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteArchiveRemovesFileAndMetadata(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true, nil)
	require.True(t, s.ArchiveLogsBeforeDeletion(context.Background(), sampleRecords()))

	metas := s.FindAll()
	id := metas[0].ID

	require.NoError(t, s.DeleteArchive(id))
	assert.Empty(t, s.FindAll())

	_, err := os.Stat(filepath.Join(dir, metas[0].Filename))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteArchiveMissingIDIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true, nil)
	assert.NoError(t, s.DeleteArchive("does-not-exist"))
}

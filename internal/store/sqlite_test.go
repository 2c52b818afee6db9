package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	// Test creating a new store with in-memory database
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	// Verify tables were created
	var count int
	err = store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table'").Scan(&count)
	require.NoError(t, err)
	assert.Greater(t, count, 0, "Expected tables to be created")
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "journal.db")

	store, err := NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, dbPath)
}

func TestRecordWatchedUpload(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	err = store.RecordWatchedUpload(ctx, WatchedUpload{
		Path:     "/watch/incoming/srs_v1.docx",
		Filename: "srs_v1.docx",
		FileID:   "file-001",
	})
	require.NoError(t, err)

	seen, err := store.HasWatchedUpload(ctx, "/watch/incoming/srs_v1.docx")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.HasWatchedUpload(ctx, "/watch/incoming/other.pdf")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRecordWatchedUploadReplacesSamePath(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	err = store.RecordWatchedUpload(ctx, WatchedUpload{
		Path:     "/watch/incoming/srs_v1.docx",
		Filename: "srs_v1.docx",
	})
	require.NoError(t, err)

	// Re-uploading the same path must not create a second row.
	err = store.RecordWatchedUpload(ctx, WatchedUpload{
		Path:     "/watch/incoming/srs_v1.docx",
		Filename: "srs_v1.docx",
		FileID:   "file-002",
	})
	require.NoError(t, err)

	uploads, err := store.WatchedUploads(ctx, 0)
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "file-002", uploads[0].FileID)
}

func TestWatchedUploadsNewestFirst(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, name := range []string{"a.pdf", "b.docx", "c.txt"} {
		err = store.RecordWatchedUpload(ctx, WatchedUpload{
			Path:       "/watch/" + name,
			Filename:   name,
			UploadedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	uploads, err := store.WatchedUploads(ctx, 2)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "c.txt", uploads[0].Filename)
	assert.Equal(t, "b.docx", uploads[1].Filename)
}

func TestReset(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	err = store.RecordWatchedUpload(ctx, WatchedUpload{Path: "/watch/a.pdf", Filename: "a.pdf"})
	require.NoError(t, err)
	err = store.AddActivity(ctx, ActivityEntry{Action: ActionUpload, Actor: "console"})
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	uploads, err := store.WatchedUploads(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, uploads)

	entries, err := store.RecentActivity(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

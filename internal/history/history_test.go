package history

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyjamlabs/skyjam-go/internal/upload"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestOpen_AppliesMigrations(t *testing.T) {
	store := openTestStore(t)

	// The uploads table must exist and be queryable right after open.
	uploaded, err := store.Uploaded(context.Background(), "/music/nothing.mp3")
	require.NoError(t, err)
	assert.False(t, uploaded)
}

func TestRecordAndUploaded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, upload.Result{
		Filepath: "/music/song.mp3",
		Success:  true,
		Reason:   upload.ReasonUploaded,
		SongID:   "song-1",
	}))

	uploaded, err := store.Uploaded(ctx, "/music/song.mp3")
	require.NoError(t, err)
	assert.True(t, uploaded)

	uploaded, err = store.Uploaded(ctx, "/music/other.mp3")
	require.NoError(t, err)
	assert.False(t, uploaded)
}

func TestRecord_FailureIsNotUploaded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, upload.Result{
		Filepath: "/music/rejected.mp3",
		Success:  false,
		Reason:   "Rejected",
	}))

	uploaded, err := store.Uploaded(ctx, "/music/rejected.mp3")
	require.NoError(t, err)
	assert.False(t, uploaded, "a failed attempt must not mark the file as uploaded")
}

func TestRecord_UpsertsByFilepath(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, upload.Result{
		Filepath: "/music/song.mp3",
		Success:  false,
		Reason:   "Could not get upload session: Server syncing",
	}))

	require.NoError(t, store.Record(ctx, upload.Result{
		Filepath: "/music/song.mp3",
		Success:  true,
		Reason:   upload.ReasonUploaded,
		SongID:   "song-1",
	}))

	uploaded, err := store.Uploaded(ctx, "/music/song.mp3")
	require.NoError(t, err)
	assert.True(t, uploaded, "a later success replaces the earlier failure")

	results, err := store.Results(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1, "one row per file")
	assert.Equal(t, "song-1", results[0].SongID)
}

func TestResults_RoundtripsFields(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	want := upload.Result{
		Filepath: "/music/song.mp3",
		Success:  true,
		Reason:   upload.ReasonMatched,
		SongID:   "song-42",
	}
	require.NoError(t, store.Record(ctx, want))

	results, err := store.Results(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, want, results[0])
}

func TestOpen_ReopensExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path, slog.Default())
	require.NoError(t, err)

	require.NoError(t, store.Record(ctx, upload.Result{Filepath: "/music/song.mp3", Success: true}))
	require.NoError(t, store.Close())

	// Reopen: migrations are idempotent, data survives.
	store, err = Open(ctx, path, slog.Default())
	require.NoError(t, err)
	defer store.Close()

	uploaded, err := store.Uploaded(ctx, "/music/song.mp3")
	require.NoError(t, err)
	assert.True(t, uploaded)
}

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *InstrumentedDownloadRepository {
	t.Helper()

	db, err := InitDB(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewInstrumentedDownloadRepository(db, nil)
}

func TestDownloadRepository_RecordAndList(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, status := range []string{"completed", "failed", "completed"} {
		_, err := repo.RecordDownload(ctx, storage.DownloadRecord{
			TaskID:     "task",
			URL:        "http://example.com/f",
			FilePath:   "/data/f",
			Status:     status,
			Bytes:      int64(i * 100),
			FinishedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	got, err := repo.GetDownloads(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(200), got[0].Bytes)
	assert.Equal(t, base.Add(2*time.Hour), got[0].FinishedAt)
	assert.Equal(t, "failed", got[1].Status)
	assert.False(t, got[0].Removed)
}

func TestDownloadRepository_ExpiredAndMarkRemoved(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	oldID, err := repo.RecordDownload(ctx, storage.DownloadRecord{
		TaskID: "old", URL: "u", FilePath: "/data/old", Status: "completed", FinishedAt: now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	_, err = repo.RecordDownload(ctx, storage.DownloadRecord{
		TaskID: "new", URL: "u", FilePath: "/data/new", Status: "completed", FinishedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = repo.RecordDownload(ctx, storage.DownloadRecord{
		TaskID: "failed", URL: "u", FilePath: "/data/failed", Status: "failed", FinishedAt: now.Add(-72 * time.Hour),
	})
	require.NoError(t, err)

	expired, err := repo.GetExpiredDownloads(ctx, "completed", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, oldID, expired[0].ID)

	require.NoError(t, repo.MarkRemoved(ctx, oldID))

	expired, err = repo.GetExpiredDownloads(ctx, "completed", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	require.ErrorIs(t, repo.MarkRemoved(ctx, 999), storage.ErrNotFound)
}

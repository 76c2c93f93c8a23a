package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteExpiredFiles(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewDownloadRepository(db)
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	record := func(name, status string, age time.Duration) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))

		_, err := repo.RecordDownload(ctx, storage.DownloadRecord{
			TaskID: name, URL: "http://example.com/" + name, FilePath: path, Status: status, FinishedAt: now.Add(-age),
		})
		require.NoError(t, err)

		return path
	}

	expired := record("old.bin", "completed", 48*time.Hour)
	fresh := record("fresh.bin", "completed", time.Hour)
	failed := record("failed.bin", "failed", 72*time.Hour)

	gone := filepath.Join(dir, "gone.bin")
	_, err = repo.RecordDownload(ctx, storage.DownloadRecord{
		TaskID: "gone", URL: "http://example.com/gone", FilePath: gone, Status: "completed", FinishedAt: now.Add(-96 * time.Hour),
	})
	require.NoError(t, err)

	n, err := DeleteExpiredFiles(ctx, repo, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoFileExists(t, expired)
	assert.FileExists(t, fresh)
	assert.FileExists(t, failed)

	n, err = DeleteExpiredFiles(ctx, repo, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Zero(t, n, "records are only cleaned once")
}

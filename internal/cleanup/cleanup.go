package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/storage"
)

const statusCompleted = "completed"

// DeleteExpiredFiles deletes completed downloads that finished more than
// keepDuration before now and marks their history records as removed. It
// returns the number of records cleaned up.
func DeleteExpiredFiles(ctx context.Context, repo storage.DownloadRepository, keepDuration time.Duration, now time.Time) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	records, err := repo.GetExpiredDownloads(ctx, statusCompleted, now.Add(-keepDuration))
	if err != nil {
		return 0, fmt.Errorf("failed to list expired downloads: %w", err)
	}

	var (
		cleaned int
		errs    []error
	)

	for _, rec := range records {
		if err := os.Remove(rec.FilePath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Error("failed to delete expired file", "file", rec.FilePath, "err", err)

				errs = append(errs, err)

				continue
			}

			logger.Debug("expired file already deleted", "file", rec.FilePath)
		} else {
			logger.Info("deleted expired file", "file", rec.FilePath, "finished_at", rec.FinishedAt)
		}

		if err := repo.MarkRemoved(ctx, rec.ID); err != nil {
			errs = append(errs, err)

			continue
		}

		cleaned++
	}

	return cleaned, errors.Join(errs...)
}

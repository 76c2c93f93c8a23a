package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
)

const timeFormat = time.RFC3339

type DownloadRepository struct {
	db *sql.DB
}

var _ storage.DownloadRepository = (*DownloadRepository)(nil)

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

// RecordDownload stores a finished download and returns its row id.
func (r *DownloadRepository) RecordDownload(ctx context.Context, record storage.DownloadRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (task_id, url, file_path, status, reason, bytes, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.TaskID, record.URL, record.FilePath, record.Status, record.Reason, record.Bytes,
		record.FinishedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert download: %w", err)
	}

	return res.LastInsertId()
}

func (r *DownloadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, task_id, url, file_path, status, reason, bytes, finished_at, removed
		FROM downloads
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *DownloadRepository) GetExpiredDownloads(ctx context.Context, status string, before time.Time) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, task_id, url, file_path, status, reason, bytes, finished_at, removed
		FROM downloads
		WHERE status = ?
		AND removed = 0
		AND finished_at < ?
		ORDER BY finished_at`, status, before.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query expired downloads: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MarkRemoved flags the record's file as deleted from disk.
func (r *DownloadRepository) MarkRemoved(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE downloads SET removed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark download removed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func scanRecords(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	var downloads []storage.DownloadRecord

	for rows.Next() {
		var (
			record     storage.DownloadRecord
			finishedAt string
		)

		if err := rows.Scan(
			&record.ID, &record.TaskID, &record.URL, &record.FilePath, &record.Status,
			&record.Reason, &record.Bytes, &finishedAt, &record.Removed,
		); err != nil {
			return nil, err
		}

		t, err := time.Parse(timeFormat, finishedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid finished_at %q: %w", finishedAt, err)
		}

		record.FinishedAt = t

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("download record not found")

// DownloadRecord is the history entry of a download that reached a terminal state.
type DownloadRecord struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	URL        string    `json:"url"`
	FilePath   string    `json:"file_path"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Bytes      int64     `json:"bytes"`
	FinishedAt time.Time `json:"finished_at"`
	Removed    bool      `json:"removed"`
}

type DownloadReadRepository interface {
	// GetDownloads returns the most recent records first, at most limit of them.
	GetDownloads(ctx context.Context, limit int) ([]DownloadRecord, error)
	// GetExpiredDownloads returns records with status that finished before the
	// cutoff and whose file was not removed yet.
	GetExpiredDownloads(ctx context.Context, status string, before time.Time) ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	RecordDownload(ctx context.Context, record DownloadRecord) (int64, error)
	MarkRemoved(ctx context.Context, id int64) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}

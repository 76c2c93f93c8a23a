package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

var _ storage.DownloadRepository = (*InstrumentedDownloadRepository)(nil)

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

// RecordDownload stores a finished download with telemetry.
func (r *InstrumentedDownloadRepository) RecordDownload(ctx context.Context, record storage.DownloadRecord) (int64, error) {
	var id int64

	err := r.telemetry.InstrumentDBOperation(ctx, "record_download", func(ctx context.Context) error {
		var err error
		id, err = r.repo.RecordDownload(ctx, record)

		return err
	})

	return id, err
}

// GetDownloads retrieves recent downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloads(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetExpiredDownloads retrieves downloads due for cleanup with telemetry.
func (r *InstrumentedDownloadRepository) GetExpiredDownloads(ctx context.Context, status string, before time.Time) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_expired_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetExpiredDownloads(ctx, status, before)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MarkRemoved flags a download as cleaned up with telemetry.
func (r *InstrumentedDownloadRepository) MarkRemoved(ctx context.Context, id int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_removed", func(ctx context.Context) error {
		return r.repo.MarkRemoved(ctx, id)
	})
}

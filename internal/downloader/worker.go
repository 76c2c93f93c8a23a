package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_downloader/internal/downloader/progress"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"github.com/italolelis/resumable_downloader/internal/transfer"
	"golang.org/x/time/rate"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	defaultChunkSize = 8 * 1024
)

// Worker runs single transfer attempts for a task.
type Worker struct {
	client     transfer.RangeClient
	negotiator *Negotiator
	chunkSize  int
	telemetry  *telemetry.Telemetry
}

func NewWorker(client transfer.RangeClient, chunkSize int, tel *telemetry.Telemetry) *Worker {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &Worker{
		client:     client,
		negotiator: NewNegotiator(client),
		chunkSize:  chunkSize,
		telemetry:  tel,
	}
}

// Transfer runs one attempt: negotiate the offset, open the response and copy
// it into the destination file chunk by chunk. limiter may be nil.
func (w *Worker) Transfer(ctx context.Context, t *Task, rep *progress.Reporter, limiter *rate.Limiter) Result {
	logger := logctx.LoggerFromContext(ctx)

	t.setState(StateNegotiating)

	if err := os.MkdirAll(filepath.Dir(t.Path), dirPerm); err != nil {
		return resultOf(&transfer.StorageError{Op: "mkdir", Path: filepath.Dir(t.Path), Err: err})
	}

	startFrom, err := localSize(t.Path)
	if err != nil {
		return resultOf(err)
	}

	offset, err := w.negotiator.Negotiate(ctx, t.URL, t.Path, startFrom)
	if err != nil {
		return resultOf(err)
	}

	resp, err := w.client.Fetch(ctx, t.URL, offset)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}

		return resultOf(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return w.rangeNotSatisfiable(ctx, t, resp, offset, rep)
	}

	if offset > 0 && !resp.Partial {
		logger.WarnContext(ctx, "server ignored range request, restarting from zero", "offset", offset)

		offset = 0
	}

	t.totalBytes.Store(resp.TotalBytes)
	t.bytesDownloaded.Store(offset)

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(t.Path, flags, filePerm)
	if err != nil {
		return resultOf(&transfer.StorageError{Op: "open", Path: t.Path, Err: err})
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()

			return resultOf(&transfer.StorageError{Op: "seek", Path: t.Path, Err: err})
		}
	}

	if resp.TotalBytes >= 0 {
		logger.InfoContext(ctx, "downloading file",
			"offset", humanize.Bytes(uint64(offset)),
			"file_size", humanize.Bytes(uint64(resp.TotalBytes)))
	} else {
		logger.InfoContext(ctx, "downloading file", "offset", humanize.Bytes(uint64(offset)))
	}

	rep.Start(offset, resp.TotalBytes)
	t.setState(StateDownloading)

	copyErr := w.copy(ctx, t, f, resp.Body, rep, limiter)

	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = &transfer.StorageError{Op: "close", Path: t.Path, Err: err}
	}

	if copyErr != nil {
		return resultOf(copyErr)
	}

	written := t.bytesDownloaded.Load()
	if resp.TotalBytes >= 0 && written < resp.TotalBytes {
		return resultOf(&transfer.NetworkError{
			Operation: "read_body",
			Message:   fmt.Sprintf("unexpected EOF after %d of %d bytes", written, resp.TotalBytes),
			Err:       io.ErrUnexpectedEOF,
		})
	}

	t.totalBytes.Store(written)

	return completed()
}

func (w *Worker) copy(ctx context.Context, t *Task, dst io.Writer, src io.Reader, rep *progress.Reporter, limiter *rate.Limiter) error {
	buf := make([]byte, w.chunkSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					if ctx.Err() != nil {
						return transfer.ErrCancelled
					}

					return fmt.Errorf("bandwidth limiter: %w", err)
				}
			}

			if _, err := dst.Write(buf[:n]); err != nil {
				return &transfer.StorageError{Op: "write", Path: t.Path, Err: err}
			}

			t.bytesDownloaded.Add(int64(n))
			w.telemetry.RecordBytes(int64(n))
			rep.Add(int64(n))
		}

		if t.cancelled() {
			return transfer.ErrCancelled
		}

		if !t.waitIfPaused(
			func() {
				t.setState(StatePaused)
				logctx.LoggerFromContext(ctx).InfoContext(ctx, "download paused", "bytes", t.bytesDownloaded.Load())
				t.notify(Listener.OnDownloadPaused)
			},
			func() {
				t.setState(StateDownloading)
				rep.Resume()
				logctx.LoggerFromContext(ctx).InfoContext(ctx, "download resumed", "bytes", t.bytesDownloaded.Load())
				t.notify(Listener.OnDownloadResumed)
			},
		) {
			return transfer.ErrCancelled
		}

		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF):
			return nil
		case ctx.Err() != nil:
			return transfer.ErrCancelled
		default:
			return &transfer.NetworkError{Operation: "read_body", Message: readErr.Error(), Err: readErr}
		}
	}
}

// rangeNotSatisfiable handles a 416: the local file is either already complete
// or unusable, in which case it is discarded and the attempt retried.
func (w *Worker) rangeNotSatisfiable(ctx context.Context, t *Task, resp *transfer.Response, offset int64, rep *progress.Reporter) Result {
	if resp.TotalBytes >= 0 && resp.TotalBytes == offset {
		logctx.LoggerFromContext(ctx).InfoContext(ctx, "file already complete", "bytes", offset)

		t.totalBytes.Store(offset)
		t.bytesDownloaded.Store(offset)
		rep.Start(offset, offset)

		return completed()
	}

	if err := removePartial(t.Path); err != nil {
		return resultOf(err)
	}

	return resultOf(&transfer.NetworkError{
		Operation:  "fetch",
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("range starting at %d not satisfiable", offset),
	})
}

// localSize returns the length of the partial file at path, 0 when missing.
func localSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, &transfer.StorageError{Op: "stat", Path: path, Err: err}
	}

	if info.IsDir() {
		return 0, &transfer.StorageError{Op: "stat", Path: path, Err: fmt.Errorf("destination is a directory")}
	}

	return info.Size(), nil
}

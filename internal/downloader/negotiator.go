package downloader

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/transfer"
)

// Negotiator decides whether a partial file can be resumed.
type Negotiator struct {
	client transfer.RangeClient
}

func NewNegotiator(client transfer.RangeClient) *Negotiator {
	return &Negotiator{client: client}
}

// Negotiate returns the offset to request. With startFrom > 0 it probes the
// server; anything but partial content, including a failed probe, discards the
// partial file at path and restarts from zero.
func (n *Negotiator) Negotiate(ctx context.Context, url, path string, startFrom int64) (int64, error) {
	if startFrom == 0 {
		return 0, nil
	}

	logger := logctx.LoggerFromContext(ctx)

	supported, err := n.client.Probe(ctx, url)
	if err != nil && ctx.Err() != nil {
		return 0, transfer.ErrCancelled
	}

	if err == nil && supported {
		logger.DebugContext(ctx, "server supports resume", "offset", startFrom)

		return startFrom, nil
	}

	logger.InfoContext(ctx, "resume not supported, discarding partial file", "offset", startFrom, "probe_err", err)

	if err := removePartial(path); err != nil {
		return 0, err
	}

	return 0, nil
}

// removePartial deletes the partial file at path. Anything other than a
// regular file is left alone.
func removePartial(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return &transfer.StorageError{Op: "stat", Path: path, Err: err}
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &transfer.StorageError{Op: "remove", Path: path, Err: err}
	}

	return nil
}

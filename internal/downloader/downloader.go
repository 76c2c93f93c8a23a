package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_downloader/internal/downloader/progress"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"github.com/italolelis/resumable_downloader/internal/transfer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidRequest = errors.New("invalid download request")
	ErrShuttingDown   = errors.New("downloader is shutting down")
)

// Options tunes the downloader. Zero values fall back to DefaultOptions.
type Options struct {
	MaxParallel      int
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	ChunkSize        int
	ProgressInterval time.Duration
	// TaskTimeout is the maximum age of a task; zero disables the sweep.
	TaskTimeout time.Duration
	// BandwidthLimit caps each task in bytes per second; zero disables it.
	BandwidthLimit int64
}

func DefaultOptions() Options {
	return Options{
		MaxParallel:      5,
		MaxRetries:       3,
		BackoffBase:      time.Second,
		BackoffMax:       30 * time.Second,
		ChunkSize:        defaultChunkSize,
		ProgressInterval: time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.MaxParallel <= 0 {
		o.MaxParallel = def.MaxParallel
	}

	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}

	if o.BackoffBase <= 0 {
		o.BackoffBase = def.BackoffBase
	}

	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = max(def.BackoffMax, o.BackoffBase)
	}

	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}

	if o.ProgressInterval <= 0 {
		o.ProgressInterval = def.ProgressInterval
	}

	return o
}

// Outcome describes a task that reached a terminal state.
type Outcome struct {
	TaskID     string
	URL        string
	Path       string
	State      State
	Reason     string
	Bytes      int64
	Duration   time.Duration
	FinishedAt time.Time
}

// OutcomeHook is called on the worker goroutine once per finished task,
// before the task leaves Wait.
type OutcomeHook func(ctx context.Context, o Outcome)

type Option func(*Downloader)

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Downloader) {
		d.telemetry = tel
	}
}

// WithOutcomeHook registers a hook; hooks run in registration order.
func WithOutcomeHook(h OutcomeHook) Option {
	return func(d *Downloader) {
		d.hooks = append(d.hooks, h)
	}
}

// WithDispatcher sets where listener callbacks run. Defaults to InlineDispatcher.
func WithDispatcher(dispatch Dispatcher) Option {
	return func(d *Downloader) {
		d.dispatch = dispatch
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Downloader) {
		d.now = now
	}
}

// Downloader owns the registry, the concurrency gate and the HTTP client
// shared by all tasks.
type Downloader struct {
	opts      Options
	client    transfer.RangeClient
	registry  *Registry
	retry     RetryPolicy
	dispatch  Dispatcher
	telemetry *telemetry.Telemetry
	hooks     []OutcomeHook
	now       func() time.Time

	gate   *Gate
	worker *Worker

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(client transfer.RangeClient, opts Options, options ...Option) *Downloader {
	opts = opts.withDefaults()

	d := &Downloader{
		opts:     opts,
		client:   client,
		registry: NewRegistry(),
		retry: RetryPolicy{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  opts.BackoffBase,
			MaxDelay:   opts.BackoffMax,
		},
		dispatch: InlineDispatcher,
		now:      time.Now,
	}

	for _, o := range options {
		o(d)
	}

	d.gate = NewGate(opts.MaxParallel, d.telemetry)
	d.worker = NewWorker(client, opts.ChunkSize, d.telemetry)

	return d
}

// Start registers a download of url into dir/name and returns its id. An
// existing live task for the same triple is cancelled and replaced; its
// partial file is kept and resumed by the new task. An empty name is taken
// from the last segment of the url path.
func (d *Downloader) Start(ctx context.Context, rawURL, dir, name string, l Listener) (string, error) {
	rawURL, dir, name, err := normalizeRequest(rawURL, dir, name)
	if err != nil {
		return "", err
	}

	d.SweepExpired()

	id := Fingerprint(rawURL, dir, name)
	ctx, logger := logctx.With(context.WithoutCancel(ctx), "task_id", id, "url", rawURL, "path", filepath.Join(dir, name))

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return "", ErrShuttingDown
	}

	t := newTask(ctx, id, rawURL, dir, name, l, d.dispatch, d.now())

	if prev := d.registry.Replace(t); prev != nil {
		if prev.requestCancel(causeSuperseded) {
			logger.Info("superseding running download")
		}

		t.prev = prev
	}

	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(t)

	logger.Info("download started")

	return id, nil
}

// Pause asks the task to suspend at its next chunk boundary. The connection is
// kept open while paused.
func (d *Downloader) Pause(id string) error {
	t, ok := d.registry.Get(id)
	if !ok {
		return ErrTaskNotFound
	}

	if t.requestPause() {
		logctx.LoggerFromContext(t.ctx).Info("pause requested")
	}

	return nil
}

// Resume wakes a paused task for the triple. A task that is running is left
// alone; otherwise a new task starts and resumes from the length of the file
// already on disk.
func (d *Downloader) Resume(ctx context.Context, rawURL, dir, name string, l Listener) (string, error) {
	rawURL, dir, name, err := normalizeRequest(rawURL, dir, name)
	if err != nil {
		return "", err
	}

	id := Fingerprint(rawURL, dir, name)

	if t, ok := d.registry.Get(id); ok && !t.cancelled() && !t.State().IsTerminal() {
		if t.requestResume() {
			logctx.LoggerFromContext(t.ctx).Info("resume requested")
		}

		return id, nil
	}

	return d.Start(ctx, rawURL, dir, name, l)
}

// Cancel stops the task and removes its partial file. It reports whether a
// live task was cancelled; cancelling an unknown or finished task is a no-op.
func (d *Downloader) Cancel(id string) bool {
	t, ok := d.registry.Get(id)
	if !ok {
		return false
	}

	if !t.requestCancel(causeUser) {
		return false
	}

	logctx.LoggerFromContext(t.ctx).Info("cancel requested")

	return true
}

func (d *Downloader) Get(id string) (Snapshot, bool) {
	t, ok := d.registry.Get(id)
	if !ok {
		return Snapshot{}, false
	}

	return t.Snapshot(), true
}

func (d *Downloader) List() []Snapshot {
	tasks := d.registry.List()

	out := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}

	return out
}

// Wait blocks until the task leaves the registry or ctx is done.
func (d *Downloader) Wait(ctx context.Context, id string) error {
	t, ok := d.registry.Get(id)
	if !ok {
		return nil
	}

	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepExpired force-cancels every task older than TaskTimeout and returns how
// many were cancelled.
func (d *Downloader) SweepExpired() int {
	if d.opts.TaskTimeout <= 0 {
		return 0
	}

	var n int

	for _, t := range d.registry.Expired(d.now(), d.opts.TaskTimeout) {
		if t.requestCancel(causeTimeout) {
			logctx.LoggerFromContext(t.ctx).Warn("download exceeded its timeout", "timeout", d.opts.TaskTimeout)

			n++
		}
	}

	return n
}

// Shutdown rejects new downloads, cancels the running ones and waits for their
// workers to exit. Partial files are kept so a later Resume can continue them.
func (d *Downloader) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	var g errgroup.Group

	for _, t := range d.registry.List() {
		g.Go(func() error {
			t.requestCancel(causeShutdown)

			select {
			case <-t.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("download %s did not stop: %w", t.ID, ctx.Err())
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Downloader) run(t *Task) {
	defer d.wg.Done()

	ctx := t.ctx
	start := d.now()

	// The superseded worker must be gone before this one touches the file.
	if prev := t.prev; prev != nil {
		<-prev.Done()

		t.prev = nil
	}

	var res Result

	_ = d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		res = d.execute(ctx, t)

		if res.Kind == ResultCancelled && t.cancelCause() == causeTimeout {
			res = Result{Kind: ResultTerminal, Err: errTimedOut}
		}

		return res.Err
	})

	d.finish(ctx, t, res, d.now().Sub(start))
}

// execute is the retry loop. The gate permit is held for one attempt only and
// is released while backing off.
func (d *Downloader) execute(ctx context.Context, t *Task) Result {
	logger := logctx.LoggerFromContext(ctx)

	rep := progress.NewReporter(d.opts.ProgressInterval, d.now,
		func(u progress.Update) {
			p := Progress{Percent: u.Percent, BytesDownloaded: u.Downloaded, TotalBytes: u.Total}
			t.notify(func(l Listener) { l.OnDownloading(p) })
		},
		func(bps int64) {
			t.notify(func(l Listener) { l.OnSpeedUpdate(bps) })
		},
	)

	var limiter *rate.Limiter
	if d.opts.BandwidthLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.opts.BandwidthLimit), d.opts.ChunkSize)
	}

	delays := d.retry.BackOff()

	for failures := 0; ; {
		if t.cancelled() {
			return cancelled()
		}

		res := d.attempt(ctx, t, rep, limiter)

		switch res.Kind {
		case ResultCompleted:
			rep.Finish()

			return res
		case ResultCancelled, ResultTerminal:
			return res
		}

		failures++
		t.attempt.Store(int32(failures))
		d.telemetry.RecordRetry(transfer.ClassRetryable.String())

		if d.retry.Exhausted(failures) {
			return Result{Kind: ResultTerminal, Err: &RetryLimitError{Attempts: failures, Err: res.Err}}
		}

		delay := delays.NextBackOff()
		t.setState(StateRetrying)

		logger.Warn("download attempt failed, retrying", "attempt", failures, "delay", delay, "err", res.Err)

		if err := sleepContext(ctx, delay); err != nil {
			return cancelled()
		}
	}
}

func (d *Downloader) attempt(ctx context.Context, t *Task, rep *progress.Reporter, limiter *rate.Limiter) Result {
	release, err := d.gate.Acquire(ctx)
	if err != nil {
		return cancelled()
	}
	defer release()

	return d.worker.Transfer(ctx, t, rep, limiter)
}

// finish moves the task to its terminal state, cleans up the partial file when
// needed, notifies the listener and hooks and removes the registry entry.
func (d *Downloader) finish(ctx context.Context, t *Task, res Result, took time.Duration) {
	logger := logctx.LoggerFromContext(ctx)
	out := Outcome{TaskID: t.ID, URL: t.URL, Path: t.Path}

	switch res.Kind {
	case ResultCompleted:
		out.State = StateCompleted
		t.setState(StateCompleted)

		logger.Info("download completed", "size", humanize.Bytes(uint64(t.bytesDownloaded.Load())), "took", took)

		t.notify(Listener.OnDownloadSuccess)
	case ResultCancelled:
		cause := t.cancelCause()
		out.State = StateCancelled
		out.Reason = "cancelled: " + cause.String()

		if cause == causeUser {
			d.discard(ctx, t)
		}

		t.setState(StateCancelled)

		logger.Info("download cancelled", "cause", cause.String())

		t.notify(func(l Listener) {
			if cl, ok := l.(CancelListener); ok {
				cl.OnDownloadCancelled()
			}
		})
	default:
		out.State = StateFailed
		out.Reason = failureReason(res.Err)

		d.discard(ctx, t)
		t.setState(StateFailed)

		logger.Error("download failed", "reason", out.Reason, "err", res.Err)

		reason := out.Reason
		t.notify(func(l Listener) { l.OnDownloadFailed(reason) })
	}

	out.Bytes = t.bytesDownloaded.Load()
	out.Duration = took
	out.FinishedAt = d.now()

	d.registry.Remove(t.ID, t)

	hookCtx := context.WithoutCancel(ctx)
	for _, h := range d.hooks {
		h(hookCtx, out)
	}

	t.cancel()
	close(t.done)
}

func (d *Downloader) discard(ctx context.Context, t *Task) {
	if err := removePartial(t.Path); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to remove partial file", "err", err)
	}
}

func normalizeRequest(rawURL, dir, name string) (string, string, string, error) {
	rawURL = strings.TrimSpace(rawURL)
	dir = strings.TrimSpace(dir)
	name = strings.TrimSpace(name)

	if rawURL == "" || dir == "" {
		return "", "", "", fmt.Errorf("%w: url and destination directory are required", ErrInvalidRequest)
	}

	// Spellings of the same directory must share a fingerprint.
	dir = filepath.Clean(dir)

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", "", fmt.Errorf("%w: unsupported url %q", ErrInvalidRequest, rawURL)
	}

	if name == "" {
		name = path.Base(u.Path)
	}

	if name == "" || name == "." || name == "/" || name == ".." || filepath.Base(name) != name {
		return "", "", "", fmt.Errorf("%w: invalid file name %q", ErrInvalidRequest, name)
	}

	return rawURL, dir, name, nil
}

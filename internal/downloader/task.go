package downloader

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a task.
type State int32

const (
	StatePending State = iota
	StateNegotiating
	StateDownloading
	StatePaused
	StateRetrying
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateNegotiating:
		return "negotiating"
	case StateDownloading:
		return "downloading"
	case StatePaused:
		return "paused"
	case StateRetrying:
		return "retrying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type cancelCause int

const (
	causeNone cancelCause = iota
	causeUser
	causeSuperseded
	causeTimeout
	causeShutdown
)

func (c cancelCause) String() string {
	switch c {
	case causeUser:
		return "user"
	case causeSuperseded:
		return "superseded"
	case causeTimeout:
		return "timeout"
	case causeShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Task is one download. Identity fields are immutable; counters are written by
// the owning worker only, while other goroutines only raise the pause and
// cancel flags.
type Task struct {
	ID        string
	URL       string
	Dir       string
	Name      string
	Path      string
	CreatedAt time.Time

	listener Listener
	dispatch Dispatcher

	state           atomic.Int32
	bytesDownloaded atomic.Int64
	totalBytes      atomic.Int64
	attempt         atomic.Int32

	mu              sync.Mutex
	cond            *sync.Cond
	pauseRequested  bool
	isWaiting       bool
	cancelRequested atomic.Bool
	cause           cancelCause

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// prev is the superseded task for the same fingerprint.
	prev *Task
}

func newTask(ctx context.Context, id, url, dir, name string, l Listener, dispatch Dispatcher, now time.Time) *Task {
	if l == nil {
		l = ListenerFuncs{}
	}

	t := &Task{
		ID:        id,
		URL:       url,
		Dir:       dir,
		Name:      name,
		Path:      filepath.Join(dir, name),
		CreatedAt: now,
		listener:  l,
		dispatch:  dispatch,
		done:      make(chan struct{}),
	}

	t.cond = sync.NewCond(&t.mu)
	t.totalBytes.Store(-1)
	t.ctx, t.cancel = context.WithCancel(ctx)

	return t
}

func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}

// Done is closed once the task reached a terminal state and left the registry.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) cancelled() bool {
	return t.cancelRequested.Load()
}

func (t *Task) cancelCause() cancelCause {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cause
}

// requestPause raises the pause flag. The worker honours it at the next chunk
// boundary.
func (t *Task) requestPause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled() || t.State().IsTerminal() {
		return false
	}

	t.pauseRequested = true

	return true
}

// requestResume clears the pause flag and wakes the worker. It returns false
// when the task was not paused.
func (t *Task) requestResume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.pauseRequested {
		return false
	}

	t.pauseRequested = false
	t.cond.Broadcast()

	return true
}

// requestCancel latches the cancel flag, wakes a paused worker and cancels the
// task context so blocked reads and sleeps return. Only the first call wins.
func (t *Task) requestCancel(cause cancelCause) bool {
	t.mu.Lock()

	if t.cancelled() || t.State().IsTerminal() {
		t.mu.Unlock()

		return false
	}

	t.cancelRequested.Store(true)
	t.cause = cause
	t.cond.Broadcast()
	t.mu.Unlock()

	t.cancel()

	return true
}

// waitIfPaused blocks on the task's condition variable while a pause is
// requested. onPause and onResume run outside the lock. It returns false when
// the task was cancelled.
func (t *Task) waitIfPaused(onPause, onResume func()) bool {
	t.mu.Lock()
	if !t.pauseRequested || t.cancelled() {
		t.mu.Unlock()

		return !t.cancelled()
	}

	t.isWaiting = true
	t.mu.Unlock()

	onPause()

	t.mu.Lock()
	for t.pauseRequested && !t.cancelled() {
		t.cond.Wait()
	}

	t.isWaiting = false
	ok := !t.cancelled()
	t.mu.Unlock()

	if ok {
		onResume()
	}

	return ok
}

func (t *Task) notify(fn func(Listener)) {
	l := t.listener
	t.dispatch(func() { fn(l) })
}

// Snapshot is a point-in-time copy of a task's observable fields.
type Snapshot struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Path            string    `json:"path"`
	State           State     `json:"state"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	TotalBytes      int64     `json:"total_bytes"`
	Attempt         int       `json:"attempt"`
	Paused          bool      `json:"paused"`
	CreatedAt       time.Time `json:"created_at"`
}

func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	paused := t.pauseRequested
	t.mu.Unlock()

	return Snapshot{
		ID:              t.ID,
		URL:             t.URL,
		Path:            t.Path,
		State:           t.State(),
		BytesDownloaded: t.bytesDownloaded.Load(),
		TotalBytes:      t.totalBytes.Load(),
		Attempt:         int(t.attempt.Load()),
		Paused:          paused,
		CreatedAt:       t.CreatedAt,
	}
}

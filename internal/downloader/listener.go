package downloader

import "sync"

// Progress is delivered to OnDownloading. Percent is -1 when the server did
// not report the resource size.
type Progress struct {
	Percent         int
	BytesDownloaded int64
	TotalBytes      int64
}

// Listener receives the lifecycle of one task. Exactly one of
// OnDownloadSuccess and OnDownloadFailed fires, unless the task is cancelled.
type Listener interface {
	OnDownloading(p Progress)
	OnDownloadPaused()
	OnDownloadResumed()
	OnSpeedUpdate(bytesPerSecond int64)
	OnDownloadSuccess()
	OnDownloadFailed(reason string)
}

// CancelListener is implemented by listeners that want to hear about
// cancellation, which otherwise ends a task silently.
type CancelListener interface {
	OnDownloadCancelled()
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Downloading func(Progress)
	Paused      func()
	Resumed     func()
	Speed       func(bytesPerSecond int64)
	Success     func()
	Failed      func(reason string)
	Cancelled   func()
}

var (
	_ Listener       = ListenerFuncs{}
	_ CancelListener = ListenerFuncs{}
)

func (f ListenerFuncs) OnDownloading(p Progress) {
	if f.Downloading != nil {
		f.Downloading(p)
	}
}

func (f ListenerFuncs) OnDownloadPaused() {
	if f.Paused != nil {
		f.Paused()
	}
}

func (f ListenerFuncs) OnDownloadResumed() {
	if f.Resumed != nil {
		f.Resumed()
	}
}

func (f ListenerFuncs) OnSpeedUpdate(bytesPerSecond int64) {
	if f.Speed != nil {
		f.Speed(bytesPerSecond)
	}
}

func (f ListenerFuncs) OnDownloadSuccess() {
	if f.Success != nil {
		f.Success()
	}
}

func (f ListenerFuncs) OnDownloadFailed(reason string) {
	if f.Failed != nil {
		f.Failed(reason)
	}
}

func (f ListenerFuncs) OnDownloadCancelled() {
	if f.Cancelled != nil {
		f.Cancelled()
	}
}

// Dispatcher delivers listener callbacks on the caller's chosen execution
// context.
type Dispatcher func(fn func())

// InlineDispatcher runs callbacks on the worker goroutine.
func InlineDispatcher(fn func()) {
	fn()
}

// SerialDispatcher runs callbacks one at a time, in submission order, on a
// dedicated goroutine. Dispatch never blocks the worker.
type SerialDispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func NewSerialDispatcher() *SerialDispatcher {
	s := &SerialDispatcher{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)

	go s.loop()

	return s
}

// Dispatch queues fn. Callbacks queued after Close are dropped.
func (s *SerialDispatcher) Dispatch(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.queue = append(s.queue, fn)
	s.cond.Signal()
}

// Close runs the callbacks already queued and stops the dispatcher.
func (s *SerialDispatcher) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()

	<-s.done
}

func (s *SerialDispatcher) loop() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}

		if len(s.queue) == 0 {
			s.mu.Unlock()

			return
		}

		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}

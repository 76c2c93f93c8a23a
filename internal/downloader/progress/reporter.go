package progress

import "time"

// Update is a single progress emission. Percent is -1 when the total size is
// unknown.
type Update struct {
	Downloaded int64
	Total      int64
	Percent    int
}

// Reporter turns a stream of chunk sizes into throttled progress and speed
// callbacks. It is driven by chunk cadence, not by a timer, and is owned by a
// single goroutine.
type Reporter struct {
	interval   time.Duration
	now        func() time.Time
	onProgress func(Update)
	onSpeed    func(bytesPerSecond int64)

	downloaded   int64
	total        int64
	lastPercent  int
	lastProgress time.Time

	windowBytes int64
	windowStart time.Time
}

// NewReporter creates a Reporter. A nil now defaults to time.Now and nil
// callbacks are ignored.
func NewReporter(interval time.Duration, now func() time.Time, onProgress func(Update), onSpeed func(int64)) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}

	if now == nil {
		now = time.Now
	}

	if onProgress == nil {
		onProgress = func(Update) {}
	}

	if onSpeed == nil {
		onSpeed = func(int64) {}
	}

	return &Reporter{
		interval:    interval,
		now:         now,
		onProgress:  onProgress,
		onSpeed:     onSpeed,
		total:       -1,
		lastPercent: -1,
	}
}

// Start begins a new transfer period at offset. total is -1 when unknown.
func (r *Reporter) Start(offset, total int64) {
	now := r.now()

	r.downloaded = offset
	r.total = total
	r.lastPercent = -1
	r.lastProgress = now
	r.windowBytes = 0
	r.windowStart = now
}

// Resume restarts the speed window so time spent paused does not count.
func (r *Reporter) Resume() {
	r.windowBytes = 0
	r.windowStart = r.now()
}

// Add accounts n freshly written bytes.
func (r *Reporter) Add(n int64) {
	if n <= 0 {
		return
	}

	now := r.now()

	r.downloaded += n
	r.windowBytes += n

	if elapsed := now.Sub(r.windowStart); elapsed >= r.interval {
		r.onSpeed(int64(float64(r.windowBytes) / elapsed.Seconds()))

		r.windowBytes = 0
		r.windowStart = now
	}

	if r.total > 0 {
		percent := int(min(r.downloaded*100/r.total, 100))
		if percent != r.lastPercent {
			r.lastPercent = percent
			r.onProgress(Update{Downloaded: r.downloaded, Total: r.total, Percent: percent})
		}

		return
	}

	if now.Sub(r.lastProgress) >= r.interval {
		r.lastProgress = now
		r.onProgress(Update{Downloaded: r.downloaded, Total: r.total, Percent: -1})
	}
}

// Finish flushes the final 100% emission if it has not been sent yet.
func (r *Reporter) Finish() {
	if r.lastPercent == 100 {
		return
	}

	total := r.total
	if total < 0 {
		total = r.downloaded
	}

	r.lastPercent = 100
	r.onProgress(Update{Downloaded: r.downloaded, Total: total, Percent: 100})
}

// Downloaded returns the byte count seen so far, including the start offset.
func (r *Reporter) Downloaded() int64 {
	return r.downloaded
}

package downloader

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of transfers running at the same time.
type Gate struct {
	sem       *semaphore.Weighted
	capacity  int64
	held      atomic.Int64
	peak      atomic.Int64
	telemetry *telemetry.Telemetry
}

func NewGate(capacity int, tel *telemetry.Telemetry) *Gate {
	if capacity < 1 {
		capacity = 1
	}

	return &Gate{
		sem:       semaphore.NewWeighted(int64(capacity)),
		capacity:  int64(capacity),
		telemetry: tel,
	}
}

// Acquire blocks until a permit is free or ctx is done. The returned release
// func is safe to call more than once; only the first call hands the permit back.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	held := g.held.Add(1)
	for {
		peak := g.peak.Load()
		if held <= peak || g.peak.CompareAndSwap(peak, held) {
			break
		}
	}

	g.telemetry.GateAcquired()

	var once sync.Once

	return func() {
		once.Do(func() {
			g.held.Add(-1)
			g.telemetry.GateReleased()
			g.sem.Release(1)
		})
	}, nil
}

// Held returns the number of permits currently taken.
func (g *Gate) Held() int {
	return int(g.held.Load())
}

func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// Peak returns the highest number of permits ever held at once.
func (g *Gate) Peak() int {
	return int(g.peak.Load())
}

package downloader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_NeverExceedsCapacity(t *testing.T) {
	g := NewGate(3, nil)

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			release, err := g.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			assert.LessOrEqual(t, g.Held(), 3)
			time.Sleep(5 * time.Millisecond)
		}()
	}

	wg.Wait()

	assert.Equal(t, 3, g.Capacity())
	assert.LessOrEqual(t, g.Peak(), 3)
	assert.Zero(t, g.Held())
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := NewGate(1, nil)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	release()
	release()

	assert.Zero(t, g.Held())

	// A double release must not have freed a second permit.
	release2, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer release2()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_AcquireCancelled(t *testing.T) {
	g := NewGate(1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, g.Held())
}

func TestNewGate_MinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewGate(0, nil).Capacity())
}

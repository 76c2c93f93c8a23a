package downloader

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerialDispatcher_PreservesOrder(t *testing.T) {
	d := NewSerialDispatcher()

	var (
		mu  sync.Mutex
		got []int
	)

	for i := range 100 {
		d.Dispatch(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	d.Close()

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}

	assert.Equal(t, want, got)

	d.Dispatch(func() { t.Error("dispatch after close must be dropped") })
}

func TestListenerFuncs_NilFieldsAreSkipped(t *testing.T) {
	var l Listener = ListenerFuncs{}

	assert.NotPanics(t, func() {
		l.OnDownloading(Progress{Percent: 10})
		l.OnDownloadPaused()
		l.OnDownloadResumed()
		l.OnSpeedUpdate(1)
		l.OnDownloadSuccess()
		l.OnDownloadFailed("x")
		l.(CancelListener).OnDownloadCancelled()
	})
}

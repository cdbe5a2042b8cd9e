package asyncrt

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsyncCoalescesBurstSends(t *testing.T) {
	l := newTestLoop(t)

	var calls int32
	done := make(chan struct{})
	a := NewAsync(l, func() {
		atomic.AddInt32(&calls, 1)
		close(done)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Send()
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async callback never ran")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAsyncCloseStopsFurtherSends(t *testing.T) {
	l := newTestLoop(t)

	var calls int32
	a := NewAsync(l, func() { atomic.AddInt32(&calls, 1) })
	a.Close()
	a.Send()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

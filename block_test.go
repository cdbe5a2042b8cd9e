package asyncrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := NewLoop()
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run()
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
		<-done
	})
	return l
}

func TestBlockedTaskDoubleWakePanics(t *testing.T) {
	l := newTestLoop(t)
	bt := newBlockedTask[int](l)
	bt.wake(1)
	assert.Panics(t, func() { bt.wake(2) })
}

func TestBlockedTaskTryWakeLosesRace(t *testing.T) {
	l := newTestLoop(t)
	bt := newBlockedTask[int](l)
	assert.True(t, bt.tryWake(1))
	assert.False(t, bt.tryWake(2))
	assert.Equal(t, 1, <-bt.ch)
}

func TestBlockerCountNeverNegative(t *testing.T) {
	l := newTestLoop(t)
	var result int
	go func() {
		result = block[int](l, func(bt *BlockedTask[int]) {
			go bt.wake(42)
		})
	}()
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, l.blockers.Load(), int64(0))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(0), l.blockers.Load())
	assert.Equal(t, 42, result)
}

func TestBlockCtxCancellation(t *testing.T) {
	l := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())

	cancelCalled := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := blockCtx[int](l, ctx, 0, func(bt *BlockedTask[int]) func() {
		return func() { close(cancelCalled) }
	})
	require.Error(t, err)
	assert.True(t, IsCanceled(err))
	<-cancelCalled
}

func TestBlockCtxCompletionWinsRace(t *testing.T) {
	l := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := blockCtx[int](l, ctx, 0, func(bt *BlockedTask[int]) func() {
		go bt.wake(7)
		return func() { t.Fatal("cancel hook should not run when completion wins") }
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

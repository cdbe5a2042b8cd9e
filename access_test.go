// Copyright 2026 The asyncrt Authors
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessSingleGrantFIFO(t *testing.T) {
	l := newTestLoop(t)
	var a Access[int]

	release, err := a.Acquire(l, 0)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := a.Acquire(l, i)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
		}()
		time.Sleep(5 * time.Millisecond) // ensure queue order matches spawn order
	}

	assert.Equal(t, 3, a.Len())
	release()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestAccessCloseFailsFutureAcquire(t *testing.T) {
	l := newTestLoop(t)
	var a Access[struct{}]

	release, err := a.Acquire(l, struct{}{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Acquire(l, struct{}{})
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	a.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrEOF)
	case <-time.After(2 * time.Second):
		t.Fatal("queued waiter was never woken by Close")
	}
	release()

	_, err = a.Acquire(l, struct{}{})
	assert.ErrorIs(t, err, ErrEOF)
}

func TestAccessTimeoutFailsAcquireAfterDeadlineWithNoWaiter(t *testing.T) {
	l := newTestLoop(t)
	var a AccessTimeout[struct{}]

	release, err := a.Acquire(l, struct{}{})
	require.NoError(t, err)
	defer release()

	a.SetTimeout(l, 20*time.Millisecond, func() {})
	time.Sleep(80 * time.Millisecond)

	_, err = a.Acquire(l, struct{}{})
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestAccessTimeoutCancelsQueuedWaiter(t *testing.T) {
	l := newTestLoop(t)
	var a AccessTimeout[struct{}]

	release, err := a.Acquire(l, struct{}{})
	require.NoError(t, err)

	a.SetTimeout(l, 20*time.Millisecond, func() {})

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Acquire(l, struct{}{})
		errCh <- err
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("queued waiter was never canceled by the deadline")
	}

	// Once the timeout is cleared, a fresh waiter queued after the canceled
	// one must still be grantable once the holder releases.
	a.ClearTimeout()
	grantedCh := make(chan struct{})
	go func() {
		rel, err := a.Acquire(l, struct{}{})
		require.NoError(t, err)
		rel()
		close(grantedCh)
	}()
	release()

	select {
	case <-grantedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter queued after a timed-out one was never granted")
	}
}

func TestAccessTimeoutInvokesCancelFnDuringRequest(t *testing.T) {
	l := newTestLoop(t)
	var a AccessTimeout[struct{}]

	release, err := a.Acquire(l, struct{}{})
	require.NoError(t, err)
	defer release()

	canceled := make(chan struct{})
	a.SetTimeout(l, 20*time.Millisecond, func() { close(canceled) })

	end := a.BeginRequestPending()
	defer end()

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelFn was never invoked for the in-flight request")
	}
}

func TestAccessTimeoutClearResetsState(t *testing.T) {
	l := newTestLoop(t)
	var a AccessTimeout[struct{}]

	a.SetTimeout(l, time.Millisecond, func() {})
	time.Sleep(20 * time.Millisecond)

	_, err := a.Acquire(l, struct{}{})
	require.ErrorIs(t, err, ErrCanceled)

	a.ClearTimeout()
	release, err := a.Acquire(l, struct{}{})
	require.NoError(t, err)
	release()
}

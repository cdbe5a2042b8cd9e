// Copyright 2026 The asyncrt Authors
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"sync"
	"time"
)

// AccessTimeout wraps the same FIFO slot arbitration as Access with a
// standing deadline that, once armed via SetTimeout, persists across
// however many Acquire/release cycles happen until ClearTimeout (or a
// replacement SetTimeout) is called — unlike a plain per-call timeout, it
// models a configured "deadline for whatever this access is doing right
// now":
//
//   - no timer armed: behaves exactly like Access.
//   - armed, nobody queued and nobody holding the slot mid-operation:
//     firing just marks the access timed out, with nothing to cancel.
//   - armed, a caller is parked waiting for the slot: firing dequeues that
//     waiter and wakes it with ErrCanceled.
//   - armed, the current holder is mid-operation (has called
//     BeginRequestPending): firing invokes the cancelFn given to
//     SetTimeout instead, so the holder's in-flight reactor op gets
//     canceled and unblocks on its own.
//
// Once timed out, every Acquire fails fast with ErrCanceled until
// ClearTimeout (or a fresh SetTimeout) resets it. Exactly one wake happens
// per pending wait even when completion and the deadline race — the same
// compare-and-swap arbitration BlockedTask.tryWake provides elsewhere.
type AccessTimeout[T any] struct {
	mu        sync.Mutex
	busy      bool
	closed    bool
	queue     []accessWaiter[T]
	loop      *Loop
	timer     *timerEntry
	timedOut  bool
	cancelFn  func()
	inRequest bool
	trackedBT *BlockedTask[accessOutcome]
}

// Acquire blocks until the caller holds the slot. Fails immediately with
// ErrEOF if Close was called, or with ErrCanceled if the standing timeout
// has already fired and not been cleared.
func (a *AccessTimeout[T]) Acquire(loop *Loop, value T) (release func(), err error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrEOF
	}
	if a.timedOut {
		a.mu.Unlock()
		return nil, ErrCanceled
	}
	if !a.busy {
		a.busy = true
		a.mu.Unlock()
		return a.release, nil
	}
	a.mu.Unlock()

	outcome := block[accessOutcome](loop, func(bt *BlockedTask[accessOutcome]) {
		a.mu.Lock()
		w := accessWaiter[T]{value: value, bt: bt}
		a.queue = append(a.queue, w)
		a.trackedBT = bt
		a.mu.Unlock()
	})
	switch outcome {
	case accessClosed:
		return nil, ErrEOF
	case accessTimedOut:
		return nil, ErrCanceled
	default:
		return a.release, nil
	}
}

func (a *AccessTimeout[T]) release() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.busy = false
			a.mu.Unlock()
			return
		}
		next := a.queue[0]
		a.queue = a.queue[1:]
		if a.trackedBT == next.bt {
			a.trackedBT = nil
		}
		a.mu.Unlock()

		if next.bt.tryWake(accessGranted) {
			return
		}
	}
}

// BeginRequestPending marks the current slot holder as now blocked on an
// in-flight reactor operation rather than merely holding the slot, arming
// the cancelFn given to SetTimeout so a deadline firing during the
// returned window cancels that operation. Call the returned function once
// the operation completes, before releasing the slot.
func (a *AccessTimeout[T]) BeginRequestPending() (end func()) {
	a.mu.Lock()
	a.inRequest = true
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.inRequest = false
		a.mu.Unlock()
	}
}

// SetTimeout installs (or replaces) the standing deadline: dur from now,
// cancelFn runs if the deadline fires while the current holder is
// mid-operation (see BeginRequestPending); otherwise the waiter parked on
// Acquire (if any) is woken directly. dur <= 0 fires immediately. Also
// clears any previously-timed-out state, giving the access a fresh
// deadline.
func (a *AccessTimeout[T]) SetTimeout(loop *Loop, dur time.Duration, cancelFn func()) {
	a.mu.Lock()
	a.clearTimerLocked()
	a.loop = loop
	a.cancelFn = cancelFn
	a.timedOut = false
	if dur <= 0 {
		a.mu.Unlock()
		a.onFire()
		return
	}
	a.timer = loop.scheduleTimer(dur, 0, a.onFire)
	a.mu.Unlock()
}

// ClearTimeout disarms the standing deadline and resets any TimedOut
// state, letting Acquire succeed normally again.
func (a *AccessTimeout[T]) ClearTimeout() {
	a.mu.Lock()
	a.clearTimerLocked()
	a.timedOut = false
	a.cancelFn = nil
	a.mu.Unlock()
}

func (a *AccessTimeout[T]) clearTimerLocked() {
	if a.timer != nil && a.loop != nil {
		a.loop.cancelTimer(a.timer)
		a.timer = nil
	}
}

func (a *AccessTimeout[T]) onFire() {
	a.mu.Lock()
	a.timer = nil
	a.timedOut = true
	switch {
	case a.inRequest && a.cancelFn != nil:
		cancelFn := a.cancelFn
		a.mu.Unlock()
		cancelFn()
	case a.trackedBT != nil:
		bt := a.trackedBT
		a.trackedBT = nil
		a.mu.Unlock()
		bt.tryWake(accessTimedOut)
	default:
		a.mu.Unlock()
	}
}

// Close permanently closes the access: every later Acquire fails fast with
// ErrEOF, and any waiter already queued is woken the same way. Idempotent.
func (a *AccessTimeout[T]) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.clearTimerLocked()
	queued := a.queue
	a.queue = nil
	a.trackedBT = nil
	a.mu.Unlock()
	for _, w := range queued {
		w.bt.tryWake(accessClosed)
	}
}

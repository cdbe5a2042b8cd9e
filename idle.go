package asyncrt

import "sync/atomic"

// idleEntry is the loop-private bookkeeping behind an IdleHandle.
type idleEntry struct {
	fn     func()
	paused atomic.Bool
	closed atomic.Bool
}

// IdleHandle is a callback invoked once per loop tick whenever the loop is
// not otherwise blocked in pollIO. Pausing suspends invocation without
// unregistering it, so it can be cheaply resumed later.
type IdleHandle struct {
	loop  *Loop
	entry *idleEntry
}

// PausableIdleCallback registers fn to run once per tick on l's own
// goroutine until the returned handle is closed or paused.
func (l *Loop) PausableIdleCallback(fn func()) *IdleHandle {
	e := &idleEntry{fn: fn}
	l.addIdle(e)
	return &IdleHandle{loop: l, entry: e}
}

// Pause suspends invocation without unregistering the callback.
func (h *IdleHandle) Pause() { h.entry.paused.Store(true) }

// Resume re-enables a paused callback.
func (h *IdleHandle) Resume() { h.entry.paused.Store(false) }

// Paused reports whether the callback is currently suspended.
func (h *IdleHandle) Paused() bool { return h.entry.paused.Load() }

// Close permanently unregisters the callback. Idempotent.
func (h *IdleHandle) Close() { h.entry.closed.Store(true) }

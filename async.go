package asyncrt

import "sync/atomic"

// Async is a long-lived handle any goroutine can Send to, coalescing
// repeated sends between loop ticks into a single callback invocation: a
// remote-wakeup primitive distinct from a one-shot RemoteCallback in that a
// burst of Sends before the loop next wakes only runs fn once, not once per
// Send.
type Async struct {
	loop    *Loop
	fn      func()
	pending atomic.Bool
	closed  atomic.Bool
}

// NewAsync creates an Async bound to l, invoking fn on l's own goroutine
// each time Send coalesces a pending notification.
func NewAsync(l *Loop, fn func()) *Async {
	return &Async{loop: l, fn: fn}
}

// Send requests fn run once more on the loop goroutine. Safe to call from
// any goroutine, any number of times; calls arriving before the loop next
// drains its queue collapse into a single invocation.
func (a *Async) Send() {
	if a.closed.Load() {
		return
	}
	if a.pending.CompareAndSwap(false, true) {
		a.loop.RemoteCallback(func() {
			a.pending.Store(false)
			if !a.closed.Load() {
				a.fn()
			}
		})
	}
}

// Close disables future Sends. Idempotent.
func (a *Async) Close() { a.closed.Store(true) }

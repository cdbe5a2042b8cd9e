package asyncrt

import "sync"

// accessOutcome distinguishes why a queued Access waiter was woken: it was
// granted the slot, the access was closed while still queued, or (for
// AccessTimeout waiters) a racing deadline claimed it first.
type accessOutcome int

const (
	accessGranted accessOutcome = iota
	accessClosed
	accessTimedOut
)

// accessWaiter is one FIFO-queued request for a slot, carrying the
// caller-supplied value alongside the token used to wake it.
type accessWaiter[T any] struct {
	value T
	bt    *BlockedTask[accessOutcome]
}

// Access serializes concurrent operations against a single resource (a
// handle's read side, write side, or accept queue) into exactly one
// in-flight grant at a time, with FIFO ordering of anyone else waiting. It
// is the generic arbitration primitive the typed façades (TCPConn.Read,
// UDPConn.SendTo, ...) use to uphold the "at most one operation of a kind
// in flight per handle" invariant without hand-rolling a mutex per façade.
type Access[T any] struct {
	mu     sync.Mutex
	busy   bool
	closed bool
	queue  []accessWaiter[T]
}

// Acquire blocks until the caller holds the slot, returning a release
// function that must be called exactly once to hand the slot to the next
// waiter (or mark the slot free). value is retained only for the duration
// the caller is queued, for diagnostics — it carries no behavior. Returns
// ErrEOF without blocking if Close was already called.
func (a *Access[T]) Acquire(loop *Loop, value T) (release func(), err error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrEOF
	}
	if !a.busy {
		a.busy = true
		a.mu.Unlock()
		return a.release, nil
	}
	a.mu.Unlock()

	outcome := block[accessOutcome](loop, func(bt *BlockedTask[accessOutcome]) {
		a.mu.Lock()
		a.queue = append(a.queue, accessWaiter[T]{value: value, bt: bt})
		a.mu.Unlock()
	})
	if outcome == accessClosed {
		return nil, ErrEOF
	}
	return a.release, nil
}

// release hands the slot to the next FIFO waiter, skipping over any waiter
// that already timed out (see AccessTimeout) rather than leaking the grant
// to nobody.
func (a *Access[T]) release() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.busy = false
			a.mu.Unlock()
			return
		}
		next := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()

		if next.bt.tryWake(accessGranted) {
			return
		}
		// next lost the race to a timeout; try the following waiter
		// instead of leaving the slot busy with nobody to release it.
	}
}

// Close permanently closes the access: the current grant (if any) is
// unaffected, but every later Acquire call fails fast with ErrEOF, and any
// waiter already queued is woken the same way. Idempotent.
func (a *Access[T]) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	queued := a.queue
	a.queue = nil
	a.mu.Unlock()
	for _, w := range queued {
		w.bt.tryWake(accessClosed)
	}
}

// Len reports the number of goroutines currently queued (not counting
// whichever one, if any, currently holds the slot). Exposed for tests
// asserting FIFO behavior and for diagnostics.
func (a *Access[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

package asyncrt

// HomeHandle identifies the Loop a long-lived reactor object belongs to,
// plus the queue used to reach that loop from any other goroutine. Typed
// façades (TCPConn, UDPConn, ...) obtain one from their owning Loop via
// Loop.homeHandle rather than storing it.
type HomeHandle struct {
	loopID uint64
	loop   *Loop
}

// HomingMissile is a diagnostic token recording that a piece of code ran
// "homed" to hh's loop. A green-task runtime would suspend and migrate a
// task's continuation onto the home loop's OS thread for the duration the
// missile is held, then migrate it back on drop; Go gives no way to move a
// running goroutine's continuation onto another goroutine's stack, so
// homing is instead expressed in continuation-passing style: Fire/Run/
// Release bracket a closure that runs in-place if the caller is already on
// the home loop, or round-trips through the home loop's queuePool (and the
// caller blocked) otherwise. Every handle mutation happens inside that
// closure, which keeps the "handles are only touched by a task homed to
// their owning loop" invariant without simulating thread migration.
type HomingMissile struct {
	hh   HomeHandle
	noop bool
}

// fireHomingMissile acquires a missile for hh. If the calling goroutine is
// already the home loop's own goroutine, the missile is a no-op (Run
// executes inline with zero overhead); otherwise Run round-trips through
// the home loop's queue pool.
func fireHomingMissile(hh HomeHandle) *HomingMissile {
	return &HomingMissile{hh: hh, noop: hh.loop.isLoopThread()}
}

// Run executes fn homed to the missile's loop, blocking the calling
// goroutine until fn returns.
func (m *HomingMissile) Run(fn func()) {
	if m.noop {
		fn()
		return
	}
	m.hh.loop.queue.submitWait(fn)
}

// Release drops the missile. A no-op today — Run never actually leaves the
// calling goroutine running, so there is nothing to migrate back — kept as
// a named step so call sites read as a fire/operate/drop sequence, and so a
// future homing implementation that does need teardown work has somewhere
// to put it.
func (m *HomingMissile) Release() {}

// homeRun is the common-case convenience wrapper: fire a missile for hh,
// run fn homed, release, and return fn's result.
func homeRun[T any](hh HomeHandle, fn func() T) T {
	m := fireHomingMissile(hh)
	defer m.Release()
	var result T
	m.Run(func() { result = fn() })
	return result
}

// homeRunErr is homeRun specialised for the common (value, error) shape.
func homeRunErr[T any](hh HomeHandle, fn func() (T, error)) (T, error) {
	m := fireHomingMissile(hh)
	defer m.Release()
	var result T
	var err error
	m.Run(func() { result, err = fn() })
	return result, err
}

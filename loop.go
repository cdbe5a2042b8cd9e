package asyncrt

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var loopIDCounter atomic.Uint64

// Loop is a single-goroutine reactor that owns a reactorPoller, a
// cross-goroutine job queue, a timer heap, and a set of pausable idle
// callbacks. A Loop is driven by calling Run on the goroutine meant to own
// it — every handle it creates, and every homed operation against those
// handles, ultimately executes there.
type Loop struct {
	id    uint64
	opts  *loopOptions
	state atomicLoopState

	poller      reactorPoller
	wakeReadFd  int
	wakeWriteFd int

	queue *queuePool

	// blockers counts BlockedTask tokens currently parked against this loop.
	// Shutdown must not declare quiescence while this is nonzero — a parked
	// goroutine is relying on this loop to eventually wake it.
	blockers atomic.Int64

	runGID atomic.Uint64

	idleMu sync.Mutex
	idles  []*idleEntry

	timerMu  sync.Mutex
	timers   timerHeap
	timerSeq atomic.Uint64

	fileOnce sync.Once
	filePool *filePool

	borrowed atomic.Bool

	doneCh chan struct{}
}

// files lazily starts the loop's file-op worker pool, used to dispatch
// blocking filesystem syscalls off the reactor goroutine — mirroring
// libuv's own thread-pool dispatch for fs operations, since regular files
// are always "ready" from epoll/kqueue's point of view and gain nothing
// from registration.
func (l *Loop) files() *filePool {
	l.fileOnce.Do(func() {
		l.filePool = newFilePool(4)
	})
	return l.filePool
}

// NewLoop constructs a Loop bound to the current platform's reactor poller
// (epoll on Linux, kqueue on Darwin) but does not start running it — call
// Run on the goroutine meant to own the loop.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	poller := newReactorPoller()
	if err := poller.init(); err != nil {
		return nil, newError("new_loop", CodeUnknown, err)
	}

	readFd, writeFd, err := createWakeFd()
	if err != nil {
		_ = poller.close()
		return nil, newError("new_loop", CodeUnknown, err)
	}

	l := &Loop{
		id:          loopIDCounter.Add(1),
		opts:        cfg,
		poller:      poller,
		wakeReadFd:  readFd,
		wakeWriteFd: writeFd,
		doneCh:      make(chan struct{}),
	}
	l.queue = newQueuePool(l)

	if err := poller.registerFD(readFd, EventRead, func(IOEvents) {
		drainWake(readFd)
	}); err != nil {
		_ = poller.close()
		_ = closeFD(readFd)
		if writeFd != readFd {
			_ = closeFD(writeFd)
		}
		return nil, newError("new_loop", CodeUnknown, err)
	}

	return l, nil
}

// wake interrupts a blocked pollIO call from any goroutine.
func (l *Loop) wake() {
	if err := signalWake(l.wakeWriteFd); err != nil {
		if l.logRate("wake_failed") {
			l.logger().Warn().Err(err).Log("asyncrt: failed to signal loop wake fd")
		}
	}
}

// isLoopThread reports whether the calling goroutine is this Loop's own
// Run goroutine.
func (l *Loop) isLoopThread() bool {
	return l.state.load() == stateRunning && l.runGID.Load() == getGoroutineID()
}

// HasActiveIO reports whether any BlockedTask is currently parked against
// this loop — i.e. whether some goroutine is waiting on a reactor
// completion this loop is responsible for delivering.
func (l *Loop) HasActiveIO() bool {
	return l.blockers.Load() > 0
}

// Callback schedules fn to run on the Loop's own goroutine at the next
// opportunity. Safe to call from the loop goroutine itself (it simply
// appends to the next tick's job list) or from any other goroutine (in
// which case it behaves exactly like RemoteCallback).
func (l *Loop) Callback(fn func()) {
	l.queue.submit(fn)
}

// RemoteCallback schedules fn to run on the Loop's own goroutine, waking
// the loop if it is currently blocked in pollIO. This is the primitive
// every cross-goroutine handle mutation (including homing) is built on.
func (l *Loop) RemoteCallback(fn func()) {
	l.queue.submit(fn)
}

// Borrow exclusively claims the Loop bound to the calling goroutine (i.e.
// the Loop whose Run call is executing on this goroutine). It fails with
// ErrNoLoop if no loop is running on this goroutine, or if the loop is
// already borrowed elsewhere — only one borrow may be outstanding at a
// time. The returned unborrow function releases the claim and must be
// called on every exit path (a deferred call is the usual pattern);
// calling it more than once is a no-op.
func Borrow() (loop *Loop, unborrow func(), err error) {
	l := currentLoop()
	if l == nil {
		return nil, nil, ErrNoLoop
	}
	if !l.borrowed.CompareAndSwap(false, true) {
		return nil, nil, ErrNoLoop
	}
	var released atomic.Bool
	return l, func() {
		if released.CompareAndSwap(false, true) {
			l.borrowed.Store(false)
		}
	}, nil
}

// makeHandle allocates a handle of the given kind wrapping fd, owned by l.
// Internal: typed façades (TCPConn, UDPConn, ...) call this, never users.
func (l *Loop) makeHandle(kind handleKind, fd int) *handle {
	return newHandle(kind, fd, l)
}

// homeHandle returns the HomeHandle identity handles should carry, used by
// the homing protocol to decide whether an operation can run inline.
func (l *Loop) homeHandle() HomeHandle {
	return HomeHandle{loopID: l.id, loop: l}
}

// Run drives the loop until Shutdown quiesces it or an unrecoverable poller
// error occurs. Run must be called from the goroutine meant to own this
// Loop; every handle made by this Loop, and every homed operation against
// those handles, will execute on that same goroutine.
func (l *Loop) Run() error {
	if !l.state.cas(stateCreated, stateRunning) {
		return newError("run", CodeInvalid, errors.New("loop already running or closed"))
	}

	gid := getGoroutineID()
	l.runGID.Store(gid)
	setCurrentLoop(gid, l)
	defer clearCurrentLoop(gid)

	for {
		l.queue.drain()
		l.runIdles()

		state := l.state.load()
		if state == stateDraining && l.quiescent() {
			break
		}

		timeoutMs := l.computeTimeout(state)
		if _, err := l.poller.pollIO(timeoutMs); err != nil {
			if l.logRate("poll_error") {
				l.logger().Err(err).Log("asyncrt: reactor poll error")
			}
		}

		l.runExpiredTimers()

		if l.state.load() != stateRunning {
			continue
		}
	}

	return l.finishShutdown()
}

// quiescent reports whether draining may complete: no parked blockers and
// no pending cross-goroutine jobs. Timers that have not fired yet and idle
// callbacks do not block shutdown — they are best-effort background work.
func (l *Loop) quiescent() bool {
	if l.blockers.Load() != 0 {
		return false
	}
	if l.queue.pending() {
		return false
	}
	return true
}

// computeTimeout picks the pollIO timeout: non-blocking if there are active
// (unpaused) idle callbacks that need another turn, bounded by the next
// timer deadline otherwise, or indefinite if neither applies. While
// draining, polling never blocks longer than a short tick so quiescence is
// rechecked promptly.
func (l *Loop) computeTimeout(state loopState) int {
	if l.hasActiveIdles() {
		return 0
	}
	if d, ok := l.nextTimerDeadline(); ok {
		ms := int(time.Until(d) / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		if state == stateDraining && ms > 10 {
			ms = 10
		}
		return ms
	}
	if state == stateDraining {
		return 10
	}
	return -1
}

// finishShutdown releases the loop's OS resources. Called exactly once,
// after Run's main loop observes quiescence.
func (l *Loop) finishShutdown() error {
	l.state.store(stateClosed)

	// A final drain: anything queued between the quiescence check and here
	// (e.g. a Close() racing the last tick) still deserves to run, but we
	// do not wait for new blockers to appear — shutdown is terminal.
	l.queue.drain()

	_ = l.poller.unregisterFD(l.wakeReadFd)
	err := l.poller.close()
	_ = closeFD(l.wakeReadFd)
	if l.wakeWriteFd != l.wakeReadFd {
		_ = closeFD(l.wakeWriteFd)
	}

	close(l.doneCh)
	if err != nil {
		return newError("shutdown", CodeUnknown, err)
	}
	return nil
}

// Shutdown requests that the loop drain and stop, and waits for it to do
// so or for ctx to expire. Safe to call from any goroutine, including one
// other than the loop's own.
func (l *Loop) Shutdown(ctx context.Context) error {
	if l.state.cas(stateCreated, stateClosed) {
		// Never started: release resources inline, nothing to drain.
		_ = l.poller.close()
		_ = closeFD(l.wakeReadFd)
		if l.wakeWriteFd != l.wakeReadFd {
			_ = closeFD(l.wakeWriteFd)
		}
		close(l.doneCh)
		return nil
	}

	l.state.cas(stateRunning, stateDraining)
	l.wake()

	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runIdles invokes every unpaused, unclosed idle callback once, and
// compacts the slice if any were closed since the last pass.
func (l *Loop) runIdles() {
	l.idleMu.Lock()
	idles := l.idles
	l.idleMu.Unlock()

	liveCount := 0
	for _, e := range idles {
		if e.closed.Load() {
			continue
		}
		liveCount++
		if !e.paused.Load() {
			e.fn()
		}
	}

	if liveCount != len(idles) {
		l.idleMu.Lock()
		kept := l.idles[:0]
		for _, e := range l.idles {
			if !e.closed.Load() {
				kept = append(kept, e)
			}
		}
		l.idles = kept
		l.idleMu.Unlock()
	}
}

func (l *Loop) hasActiveIdles() bool {
	l.idleMu.Lock()
	defer l.idleMu.Unlock()
	for _, e := range l.idles {
		if !e.closed.Load() && !e.paused.Load() {
			return true
		}
	}
	return false
}

func (l *Loop) addIdle(e *idleEntry) {
	l.idleMu.Lock()
	l.idles = append(l.idles, e)
	l.idleMu.Unlock()
}

// timerEntry is one scheduled (oneshot or periodic) timer callback.
type timerEntry struct {
	id       uint64
	deadline time.Time
	period   time.Duration
	fn       func()
	canceled atomic.Bool
	index    int
}

// timerHeap is a container/heap min-heap ordered by deadline.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// scheduleTimer registers fn to run after d, optionally recurring every
// period thereafter (period == 0 means a oneshot). Must be safe to call
// from any goroutine; the entry only ever fires on the loop goroutine.
func (l *Loop) scheduleTimer(d, period time.Duration, fn func()) *timerEntry {
	e := &timerEntry{
		id:       l.timerSeq.Add(1),
		deadline: time.Now().Add(d),
		period:   period,
		fn:       fn,
	}
	l.timerMu.Lock()
	heap.Push(&l.timers, e)
	l.timerMu.Unlock()
	l.wake()
	return e
}

func (l *Loop) cancelTimer(e *timerEntry) {
	e.canceled.Store(true)
}

func (l *Loop) nextTimerDeadline() (time.Time, bool) {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	for len(l.timers) > 0 && l.timers[0].canceled.Load() {
		heap.Pop(&l.timers)
	}
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].deadline, true
}

// runExpiredTimers pops and fires every timer whose deadline has passed,
// rescheduling periodic ones. Runs on the loop goroutine only.
func (l *Loop) runExpiredTimers() {
	now := time.Now()
	for {
		l.timerMu.Lock()
		if len(l.timers) == 0 {
			l.timerMu.Unlock()
			return
		}
		top := l.timers[0]
		if top.canceled.Load() {
			heap.Pop(&l.timers)
			l.timerMu.Unlock()
			continue
		}
		if top.deadline.After(now) {
			l.timerMu.Unlock()
			return
		}
		heap.Pop(&l.timers)
		l.timerMu.Unlock()

		top.fn()

		if top.period > 0 && !top.canceled.Load() {
			top.deadline = now.Add(top.period)
			l.timerMu.Lock()
			heap.Push(&l.timers, top)
			l.timerMu.Unlock()
		}
	}
}

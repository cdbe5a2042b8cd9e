package asyncrt

import (
	"context"
	"time"
)

// Timer wraps a loop-scheduled oneshot or periodic callback. The
// underlying timerEntry carries a canceled flag that the loop checks before
// each fire and before rescheduling a periodic timer, so a stopped timer is
// not fired again; it also carries a monotonically increasing id
// (Loop.timerSeq), exposed through ID for diagnostics.
type Timer struct {
	loop  *Loop
	entry *timerEntry
}

// StartTimer schedules fn to run after delay, recurring every period
// thereafter if period > 0 (a oneshot if period == 0).
func StartTimer(l *Loop, delay, period time.Duration, fn func()) *Timer {
	return &Timer{loop: l, entry: l.scheduleTimer(delay, period, fn)}
}

// Stop cancels the timer. Idempotent; a concurrent in-flight fire may
// still complete, but no further fire (including a pending reschedule of
// a periodic timer) will happen afterward.
func (t *Timer) Stop() { t.loop.cancelTimer(t.entry) }

// ID returns the timer's stable identity, for diagnostics and for
// distinguishing one Timer from another sharing the same deadline.
func (t *Timer) ID() uint64 { return t.entry.id }

// Sleep parks the calling goroutine for d (clamped to zero for d <= 0,
// which still yields at least one loop tick rather than returning
// synchronously), returning early with ErrCanceled if ctx is canceled
// first.
func Sleep(ctx context.Context, l *Loop, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	_, err := blockCtx[struct{}](l, ctx, struct{}{}, func(bt *BlockedTask[struct{}]) func() {
		e := l.scheduleTimer(d, 0, func() {
			bt.tryWake(struct{}{})
		})
		return func() { l.cancelTimer(e) }
	})
	return err
}

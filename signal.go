package asyncrt

import (
	"os"
	"os/signal"
)

// Signal delivers OS signal notifications to a callback on the owning
// Loop's own goroutine. Built on os/signal rather than a raw signalfd: the
// reactor's from-scratch-bindings requirement covers the byte-stream and
// socket primitives (§ Non-goals excludes nothing here, but signalfd is
// Linux-only and has no Darwin equivalent, so os/signal is the only
// cross-platform option available without hand-rolling a second signal
// subsystem per OS).
type Signal struct {
	loop   *Loop
	ch     chan os.Signal
	stopCh chan struct{}
}

// StartSignal begins watching sig, invoking fn on the loop's own goroutine
// each time it is received, until Stop is called.
func StartSignal(l *Loop, sig os.Signal, fn func(os.Signal)) *Signal {
	s := &Signal{
		loop:   l,
		ch:     make(chan os.Signal, 1),
		stopCh: make(chan struct{}),
	}
	signal.Notify(s.ch, sig)
	go s.forward(fn)
	return s
}

func (s *Signal) forward(fn func(os.Signal)) {
	for {
		select {
		case sig := <-s.ch:
			s.loop.RemoteCallback(func() { fn(sig) })
		case <-s.stopCh:
			return
		}
	}
}

// Stop unregisters the signal watch. Idempotent.
func (s *Signal) Stop() {
	select {
	case <-s.stopCh:
		return
	default:
	}
	signal.Stop(s.ch)
	close(s.stopCh)
}

//go:build darwin

package asyncrt

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements reactorPoller using kqueue.
type kqueuePoller struct {
	kq       int
	mu       sync.RWMutex
	fds      map[int]kqueueReg
	eventBuf [256]unix.Kevent_t
}

type kqueueReg struct {
	cb     IOCallback
	events IOEvents
}

func newReactorPoller() reactorPoller {
	return &kqueuePoller{fds: make(map[int]kqueueReg)}
}

func (p *kqueuePoller) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	return nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if events&EventRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func (p *kqueuePoller) registerFD(fd int, events IOEvents, cb IOCallback) error {
	p.mu.Lock()
	if _, ok := p.fds[fd]; ok {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = kqueueReg{cb: cb, events: events}
	p.mu.Unlock()

	kevs := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevs) > 0 {
		if _, err := unix.Kevent(p.kq, kevs, nil, nil); err != nil {
			p.mu.Lock()
			delete(p.fds, fd)
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) unregisterFD(fd int) error {
	p.mu.Lock()
	reg, ok := p.fds[fd]
	if !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.mu.Unlock()

	kevs := eventsToKevents(fd, reg.events, unix.EV_DELETE)
	if len(kevs) > 0 {
		_, _ = unix.Kevent(p.kq, kevs, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	reg, ok := p.fds[fd]
	if !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	old := reg.events
	reg.events = events
	p.fds[fd] = reg
	p.mu.Unlock()

	if del := old &^ events; del != 0 {
		kevs := eventsToKevents(fd, del, unix.EV_DELETE)
		if len(kevs) > 0 {
			_, _ = unix.Kevent(p.kq, kevs, nil, nil)
		}
	}
	if add := events &^ old; add != 0 {
		kevs := eventsToKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE)
		if len(kevs) > 0 {
			if _, err := unix.Kevent(p.kq, kevs, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *kqueuePoller) pollIO(timeoutMs int) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(1e6))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Ident)
		p.mu.RLock()
		reg, ok := p.fds[fd]
		p.mu.RUnlock()
		if !ok || reg.cb == nil {
			continue
		}
		var events IOEvents
		switch ev.Filter {
		case unix.EVFILT_READ:
			events = EventRead
		case unix.EVFILT_WRITE:
			events = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			events |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			events |= EventError
		}
		reg.cb(events)
	}
	return n, nil
}

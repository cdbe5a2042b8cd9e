//go:build linux

package asyncrt

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller implements reactorPoller using epoll.
type epollPoller struct {
	epfd     int
	mu       sync.RWMutex
	fds      map[int]epollReg
	eventBuf [256]unix.EpollEvent
}

type epollReg struct {
	cb     IOCallback
	events IOEvents
}

func newReactorPoller() reactorPoller {
	return &epollPoller{fds: make(map[int]epollReg)}
}

func (p *epollPoller) init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = fd
	return nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	// Error and hangup conditions are always reported by epoll regardless
	// of the requested event mask; no bits to add here.
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&(unix.EPOLLERR) != 0 {
		events |= EventError
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHangup
	}
	return events
}

func (p *epollPoller) registerFD(fd int, events IOEvents, cb IOCallback) error {
	p.mu.Lock()
	if _, ok := p.fds[fd]; ok {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = epollReg{cb: cb, events: events}
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.fds, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	if _, ok := p.fds[fd]; !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.mu.Unlock()
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollPoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	reg, ok := p.fds[fd]
	if !ok {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	reg.events = events
	p.fds[fd] = reg
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// pollIO blocks in epoll_wait and dispatches each ready descriptor's
// callback inline, on the Loop goroutine that called it.
func (p *epollPoller) pollIO(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		p.mu.RLock()
		reg, ok := p.fds[fd]
		p.mu.RUnlock()
		if !ok || reg.cb == nil {
			continue
		}
		reg.cb(epollToEvents(p.eventBuf[i].Events))
	}
	return n, nil
}

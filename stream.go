package asyncrt

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

type readResult struct {
	n   int
	err error
}

type writeResult struct {
	n   int
	err error
}

// Stream is the shared read/write engine behind every byte-stream façade
// (TCPConn, PipeConn, TTY): exactly one read and one write may be in
// flight at a time (arbitrated by Access), each retried against the
// reactor poller until the kernel reports readiness instead of EAGAIN.
//
// A single fd carries one combined epoll/kqueue registration for both
// directions, so all registration-state fields below are mutated only
// while homed to the owning loop — there is never a data race on them, but
// they must never be touched off that goroutine.
type Stream struct {
	h *handle

	readAccess  AccessTimeout[struct{}]
	writeAccess Access[struct{}]

	mask IOEvents

	pendingReadBuf []byte
	pendingRead    *BlockedTask[readResult]

	pendingWriteBuf []byte
	pendingWrite    *BlockedTask[writeResult]
}

func newStream(h *handle) *Stream {
	return &Stream{h: h}
}

// ensureRegistered reconciles the poller registration with which
// directions currently have a pending operation. Must run homed.
func (s *Stream) ensureRegistered() {
	want := IOEvents(0)
	if s.pendingRead != nil {
		want |= EventRead
	}
	if s.pendingWrite != nil {
		want |= EventWrite
	}
	if want == s.mask {
		return
	}
	switch {
	case s.mask == 0 && want != 0:
		_ = s.h.loop.poller.registerFD(s.h.fd, want, s.onReady)
	case want == 0 && s.mask != 0:
		_ = s.h.loop.poller.unregisterFD(s.h.fd)
	default:
		_ = s.h.loop.poller.modifyFD(s.h.fd, want)
	}
	s.mask = want
}

// onReady is the reactor completion callback registered against the
// stream's fd. Runs on the loop goroutine.
func (s *Stream) onReady(events IOEvents) {
	if events&EventRead != 0 && s.pendingRead != nil {
		bt, buf := s.pendingRead, s.pendingReadBuf
		s.pendingRead, s.pendingReadBuf = nil, nil
		s.attemptRead(buf, bt)
	}
	if events&EventWrite != 0 && s.pendingWrite != nil {
		bt, buf := s.pendingWrite, s.pendingWriteBuf
		s.pendingWrite, s.pendingWriteBuf = nil, nil
		s.attemptWrite(buf, bt)
	}
	if events&(EventError|EventHangup) != 0 {
		if s.pendingRead != nil {
			bt := s.pendingRead
			s.pendingRead, s.pendingReadBuf = nil, nil
			bt.tryWake(readResult{0, ErrEOF})
		}
		if s.pendingWrite != nil {
			bt := s.pendingWrite
			s.pendingWrite, s.pendingWriteBuf = nil, nil
			bt.tryWake(writeResult{0, mapErrno("write", unix.EPIPE)})
		}
	}
	s.ensureRegistered()
}

// attemptRead runs homed: tries a non-blocking read, waking bt immediately
// on success/EOF/hard error, or registering for EventRead and returning if
// the kernel isn't ready yet.
func (s *Stream) attemptRead(buf []byte, bt *BlockedTask[readResult]) {
	n, err := readFD(s.h.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		s.pendingReadBuf, s.pendingRead = buf, bt
		s.ensureRegistered()
	case err != nil:
		bt.wake(readResult{0, mapErrno("read", err)})
	case n == 0:
		bt.wake(readResult{0, ErrEOF})
	default:
		bt.wake(readResult{n, nil})
	}
}

func (s *Stream) attemptWrite(buf []byte, bt *BlockedTask[writeResult]) {
	n, err := writeFD(s.h.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		s.pendingWriteBuf, s.pendingWrite = buf, bt
		s.ensureRegistered()
	case err != nil:
		bt.wake(writeResult{0, mapErrno("write", err)})
	default:
		bt.wake(writeResult{n, nil})
	}
}

// cancelPendingRead runs homed: drops the currently pending read (if any)
// and reconciles registration. Used by Read's context-cancellation path.
func (s *Stream) cancelPendingRead() {
	if s.pendingRead != nil {
		s.pendingRead, s.pendingReadBuf = nil, nil
		s.ensureRegistered()
	}
}

// cancelPendingReadWith runs homed: drops the currently pending read (if
// any), reconciles registration, and wakes its caller with reason instead
// of leaving it to the blockCtx cancellation path. Shared by CancelRead and
// the read-timeout cancelFn.
func (s *Stream) cancelPendingReadWith(reason error) {
	if s.pendingRead != nil {
		bt := s.pendingRead
		s.pendingRead, s.pendingReadBuf = nil, nil
		s.ensureRegistered()
		bt.tryWake(readResult{0, reason})
	}
}

func (s *Stream) cancelPendingWrite() {
	if s.pendingWrite != nil {
		s.pendingWrite, s.pendingWriteBuf = nil, nil
		s.ensureRegistered()
	}
}

// Read reads into buf, blocking the caller until data, EOF, an error, a
// context cancellation, or another goroutine's CancelRead on the same
// Stream. Only one Read may be in flight at a time.
func (s *Stream) Read(ctx context.Context, buf []byte) (int, error) {
	release, err := s.readAccess.Acquire(s.h.loop, struct{}{})
	if err != nil {
		return 0, err
	}
	defer release()

	end := s.readAccess.BeginRequestPending()
	defer end()

	res, cerr := blockCtx[readResult](s.h.loop, ctx, readResult{}, func(bt *BlockedTask[readResult]) func() {
		fireHomingMissile(s.h.loop.homeHandle()).Run(func() {
			s.attemptRead(buf, bt)
		})
		return func() {
			s.h.loop.queue.submitWait(s.cancelPendingRead)
		}
	})
	if cerr != nil {
		return 0, cerr
	}
	return res.n, res.err
}

// SetReadTimeout arms a standing deadline covering whichever Read is
// currently parked or starts next: if it fires while a Read is queued
// waiting for the Access slot, that Read is canceled; if it fires while a
// Read is already running its reactor op, the pending read is canceled
// with ErrCanceled. d <= 0 clears the deadline.
func (s *Stream) SetReadTimeout(d time.Duration) {
	if d <= 0 {
		s.readAccess.ClearTimeout()
		return
	}
	s.readAccess.SetTimeout(s.h.loop, d, func() {
		fireHomingMissile(s.h.loop.homeHandle()).Run(func() {
			s.cancelPendingReadWith(ErrCanceled)
		})
	})
}

// closeReadHalf flags the read access closed (so any further Read call
// fails fast with ErrEOF) and only then cancels an in-flight read with
// ErrEOF — the ordering matters: a read racing on another clone must
// observe the closed flag before it could otherwise restart.
func (s *Stream) closeReadHalf() {
	fireHomingMissile(s.h.loop.homeHandle()).Run(func() {
		s.readAccess.Close()
		s.cancelPendingReadWith(ErrEOF)
	})
}

// Write writes buf, blocking the caller until the full retry/registration
// cycle either accepts at least one byte or fails. Only one Write may be
// in flight at a time.
func (s *Stream) Write(ctx context.Context, buf []byte) (int, error) {
	release, err := s.writeAccess.Acquire(s.h.loop, struct{}{})
	if err != nil {
		return 0, err
	}
	defer release()

	res, cerr := blockCtx[writeResult](s.h.loop, ctx, writeResult{}, func(bt *BlockedTask[writeResult]) func() {
		fireHomingMissile(s.h.loop.homeHandle()).Run(func() {
			s.attemptWrite(buf, bt)
		})
		return func() {
			s.h.loop.queue.submitWait(s.cancelPendingWrite)
		}
	})
	if cerr != nil {
		return 0, cerr
	}
	return res.n, res.err
}

// CancelRead aborts a Read currently in flight on this Stream from another
// goroutine, waking it with ErrCanceled. A no-op if no read is pending.
func (s *Stream) CancelRead() {
	fireHomingMissile(s.h.loop.homeHandle()).Run(func() {
		s.cancelPendingReadWith(ErrCanceled)
	})
}

package asyncrt

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PipeConn is a connected Unix-domain-socket stream: a named local IPC
// stream, distinct from a plain OS pipe(2) fifo in that it supports
// listen/accept like TCP does. Clone shares the underlying handle and
// Stream by reference count; Close only tears down the fd once every
// clone has released its reference.
type PipeConn struct {
	h      *handle
	stream *Stream
}

// Clone returns an independent PipeConn sharing this connection's
// underlying fd and Stream.
func (c *PipeConn) Clone() *PipeConn {
	c.h.addRef()
	return &PipeConn{h: c.h, stream: c.stream}
}

// PipeListener accepts incoming Pipe connections on a filesystem path.
// Accepted connections that arrive before a caller is parked in Accept are
// queued, decoupled from any particular Accept call, so a CloseAccept (or
// an AcceptTimeout deadline) never drops a connection the reactor already
// pulled off the kernel's backlog.
type PipeListener struct {
	h       *handle
	path    string
	backlog int
	accepts AccessTimeout[struct{}]

	mu      sync.Mutex
	pending []pipeAcceptResult
	waiting *BlockedTask[error]
	armed   bool
	closed  bool
}

type pipeAcceptResult struct {
	fd  int
	err error
}

// ListenPipe binds a Unix domain socket at path.
func ListenPipe(l *Loop, path string, backlog int) (*PipeListener, error) {
	if backlog <= 0 {
		backlog = l.opts.backlog
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, mapErrno("listen_pipe", err)
	}
	if err := setNonblock(fd); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_pipe", err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_pipe", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_pipe", err)
	}
	h := l.makeHandle(handleKindPipe, fd)
	ln := &PipeListener{h: h, path: path, backlog: backlog, armed: true}
	if err := l.poller.registerFD(fd, EventRead, ln.onAcceptable); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_pipe", err)
	}
	return ln, nil
}

// Accept blocks until a connection arrives, ctx is canceled, or the
// listener is closed. Connections queued before a CloseAccept (or an
// AcceptTimeout deadline) are still delivered.
func (ln *PipeListener) Accept(ctx context.Context) (*PipeConn, error) {
	release, err := ln.accepts.Acquire(ln.h.loop, struct{}{})
	if err != nil {
		// A fired accept deadline does not hold back connections that are
		// already queued.
		if IsCanceled(err) {
			if res, ok := ln.popPending(); ok {
				if res.err != nil {
					return nil, res.err
				}
				h := ln.h.loop.makeHandle(handleKindPipe, res.fd)
				return &PipeConn{h: h, stream: newStream(h)}, nil
			}
		}
		return nil, err
	}
	defer release()

	for {
		if res, ok := ln.popPending(); ok {
			if res.err != nil {
				return nil, res.err
			}
			h := ln.h.loop.makeHandle(handleKindPipe, res.fd)
			return &PipeConn{h: h, stream: newStream(h)}, nil
		}
		if ln.isClosed() {
			return nil, ErrEOF
		}

		end := ln.accepts.BeginRequestPending()
		reason, cerr := blockCtx[error](ln.h.loop, ctx, nil, func(bt *BlockedTask[error]) func() {
			fireHomingMissile(ln.h.loop.homeHandle()).Run(func() {
				ln.registerWaiter(bt)
			})
			return func() {
				ln.h.loop.queue.submitWait(func() { ln.clearWaiter(bt) })
			}
		})
		end()
		if cerr != nil {
			return nil, cerr
		}
		if reason != nil {
			return nil, reason
		}
	}
}

func (ln *PipeListener) registerWaiter(bt *BlockedTask[error]) {
	ln.mu.Lock()
	ln.waiting = bt
	armed := ln.armed
	ln.mu.Unlock()
	if !armed {
		ln.mu.Lock()
		ln.armed = true
		ln.mu.Unlock()
		_ = ln.h.loop.poller.registerFD(ln.h.fd, EventRead, ln.onAcceptable)
	}
}

func (ln *PipeListener) clearWaiter(bt *BlockedTask[error]) {
	ln.mu.Lock()
	if ln.waiting == bt {
		ln.waiting = nil
	}
	ln.mu.Unlock()
}

func (ln *PipeListener) popPending() (pipeAcceptResult, bool) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if len(ln.pending) == 0 {
		return pipeAcceptResult{}, false
	}
	res := ln.pending[0]
	ln.pending = ln.pending[1:]
	return res, true
}

func (ln *PipeListener) isClosed() bool {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.closed
}

// onAcceptable is the reactor completion callback for the listening fd: it
// drains every connection the kernel has ready, queues each one, and wakes
// the parked acceptor (if any) to recheck the queue.
func (ln *PipeListener) onAcceptable(IOEvents) {
	for {
		fd, _, err := unix.Accept(ln.h.fd)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err != nil {
			ln.pushPending(pipeAcceptResult{err: mapErrno("accept", err)})
			break
		}
		_ = setNonblock(fd)
		ln.pushPending(pipeAcceptResult{fd: fd})
	}
	ln.mu.Lock()
	waiting := ln.waiting
	ln.waiting = nil
	ln.mu.Unlock()
	if waiting != nil {
		waiting.tryWake(nil)
	}
}

func (ln *PipeListener) pushPending(res pipeAcceptResult) {
	ln.mu.Lock()
	ln.pending = append(ln.pending, res)
	ln.mu.Unlock()
}

// CloseAccept stops the listener from accepting further connections and
// wakes any parked acceptor so it re-checks the queue and observes ErrEOF
// once drained — distinct from destroying the listening fd, which this
// still does, but only after the closed flag and wakeup are visible, so
// connections already queued ahead of the close are still delivered by a
// subsequent Accept. Also removes the bound filesystem path.
func (ln *PipeListener) CloseAccept() error {
	ln.mu.Lock()
	if ln.closed {
		ln.mu.Unlock()
		return nil
	}
	ln.closed = true
	waiting := ln.waiting
	ln.waiting = nil
	ln.mu.Unlock()
	if waiting != nil {
		waiting.tryWake(nil)
	}
	err := ln.h.closeAsync("close_accept")
	_ = unix.Unlink(ln.path)
	return err
}

// SetAcceptTimeout arms a standing deadline covering whichever Accept is
// currently parked or starts next. d <= 0 clears the deadline.
func (ln *PipeListener) SetAcceptTimeout(d time.Duration) {
	if d <= 0 {
		ln.accepts.ClearTimeout()
		return
	}
	ln.accepts.SetTimeout(ln.h.loop, d, func() {
		fireHomingMissile(ln.h.loop.homeHandle()).Run(func() {
			ln.mu.Lock()
			waiting := ln.waiting
			ln.waiting = nil
			ln.mu.Unlock()
			if waiting != nil {
				waiting.tryWake(ErrCanceled)
			}
		})
	})
}

// ConnectPipe dials a Unix-domain-socket connection at path.
func ConnectPipe(ctx context.Context, l *Loop, path string) (*PipeConn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, mapErrno("connect_pipe", err)
	}
	if err := setNonblock(fd); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("connect_pipe", err)
	}
	h := l.makeHandle(handleKindPipe, fd)
	sa := &unix.SockaddrUnix{Name: path}

	var connErr error
	_, cerr := blockCtx[struct{}](l, ctx, struct{}{}, func(bt *BlockedTask[struct{}]) func() {
		fireHomingMissile(h.loop.homeHandle()).Run(func() {
			err := unix.Connect(fd, sa)
			if err == nil || err == unix.EINPROGRESS {
				_ = l.poller.registerFD(fd, EventWrite, func(IOEvents) {
					_ = l.poller.unregisterFD(fd)
					bt.tryWake(struct{}{})
				})
				return
			}
			connErr = err
			bt.wake(struct{}{})
		})
		return func() {
			l.queue.submitWait(func() { _ = l.poller.unregisterFD(fd) })
		}
	})
	if cerr != nil {
		_ = closeFD(fd)
		return nil, cerr
	}
	if connErr != nil {
		_ = closeFD(fd)
		return nil, mapErrno("connect_pipe", connErr)
	}
	return &PipeConn{h: h, stream: newStream(h)}, nil
}

func (c *PipeConn) Read(ctx context.Context, buf []byte) (int, error) { return c.stream.Read(ctx, buf) }

func (c *PipeConn) Write(ctx context.Context, buf []byte) (int, error) {
	return c.stream.Write(ctx, buf)
}

func (c *PipeConn) CancelRead() { c.stream.CancelRead() }

// SetReadTimeout arms a standing deadline covering whichever Read is
// currently parked or starts next on this connection (and any of its
// clones, since they share the underlying Stream). d <= 0 clears it.
func (c *PipeConn) SetReadTimeout(d time.Duration) { c.stream.SetReadTimeout(d) }

// CloseRead shuts down the read half of the connection: any Read in flight
// on this connection or a clone of it is canceled with ErrEOF, and further
// Read calls fail the same way, without affecting writes.
func (c *PipeConn) CloseRead() error {
	c.stream.closeReadHalf()
	if err := unix.Shutdown(c.h.fd, unix.SHUT_RD); err != nil {
		return mapErrno("close_read", err)
	}
	return nil
}

func (c *PipeConn) CloseWrite() error {
	if err := unix.Shutdown(c.h.fd, unix.SHUT_WR); err != nil {
		return mapErrno("close_write", err)
	}
	return nil
}

func (c *PipeConn) Close() error { return c.h.closeAsync("close") }

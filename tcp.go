package asyncrt

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// TCPConn is a connected TCP stream. Clone shares the underlying handle
// and Stream (and therefore its Access/AccessTimeout slots) by reference
// count, rather than copying any state: each clone is an independent Go
// value, but Close only tears down the fd once every clone has released
// its reference.
type TCPConn struct {
	h      *handle
	stream *Stream
}

// Clone returns an independent TCPConn sharing this connection's
// underlying fd and Stream. Closing one clone does not affect the others;
// the fd itself is only closed once every clone (and the original) has
// been closed.
func (c *TCPConn) Clone() *TCPConn {
	c.h.addRef()
	return &TCPConn{h: c.h, stream: c.stream}
}

// TCPListener accepts incoming TCP connections. Accepted connections that
// arrive before a caller is parked in Accept are queued, decoupled from
// any particular Accept call, so a CloseAccept (or an AcceptTimeout
// deadline) never drops a connection the reactor already pulled off the
// kernel's backlog.
type TCPListener struct {
	h       *handle
	backlog int
	accepts AccessTimeout[struct{}]

	mu      sync.Mutex
	pending []acceptResult
	waiting *BlockedTask[error] // woken with nil to recheck the queue, or a terminal error to stop
	armed   bool
	closed  bool
}

type acceptResult struct {
	fd   int
	addr *net.TCPAddr
	err  error
}

// ListenTCP binds and listens on addr ("host:port"), using l's configured
// backlog unless backlog > 0 overrides it.
func ListenTCP(l *Loop, addr string, backlog int) (*TCPListener, error) {
	if backlog <= 0 {
		backlog = l.opts.backlog
	}
	sa, family, err := resolveTCPAddr(addr)
	if err != nil {
		return nil, newError("listen_tcp", CodeInvalid, err)
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, mapErrno("listen_tcp", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := setNonblock(fd); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_tcp", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_tcp", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_tcp", err)
	}

	h := l.makeHandle(handleKindTCP, fd)
	ln := &TCPListener{h: h, backlog: backlog, armed: true}
	if err := l.poller.registerFD(fd, EventRead, ln.onAcceptable); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_tcp", err)
	}
	return ln, nil
}

// Accept blocks until a connection arrives, ctx is canceled, or the
// listener is closed. Connections queued before a CloseAccept (or an
// AcceptTimeout deadline) are still delivered; Accept only returns ErrEOF
// once the listener is closed and the queue is drained.
func (ln *TCPListener) Accept(ctx context.Context) (*TCPConn, error) {
	release, err := ln.accepts.Acquire(ln.h.loop, struct{}{})
	if err != nil {
		// A fired accept deadline does not hold back connections that are
		// already queued.
		if IsCanceled(err) {
			if res, ok := ln.popPending(); ok {
				if res.err != nil {
					return nil, res.err
				}
				conn := &TCPConn{h: ln.h.loop.makeHandle(handleKindTCP, res.fd)}
				conn.stream = newStream(conn.h)
				return conn, nil
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
			conn := &TCPConn{h: ln.h.loop.makeHandle(handleKindTCP, res.fd)}
			conn.stream = newStream(conn.h)
			return conn, nil
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
		// A connection arrived, or the listener was closed; loop around to
		// recheck the queue.
	}
}

// registerWaiter runs homed: records bt as the parked acceptor and makes
// sure the listening fd is registered for readability.
func (ln *TCPListener) registerWaiter(bt *BlockedTask[error]) {
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

func (ln *TCPListener) clearWaiter(bt *BlockedTask[error]) {
	ln.mu.Lock()
	if ln.waiting == bt {
		ln.waiting = nil
	}
	ln.mu.Unlock()
}

func (ln *TCPListener) popPending() (acceptResult, bool) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if len(ln.pending) == 0 {
		return acceptResult{}, false
	}
	res := ln.pending[0]
	ln.pending = ln.pending[1:]
	return res, true
}

func (ln *TCPListener) isClosed() bool {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.closed
}

// onAcceptable is the reactor completion callback for the listening fd:
// it drains every connection the kernel has ready, queues each one, and
// wakes the parked acceptor (if any) to recheck the queue.
func (ln *TCPListener) onAcceptable(IOEvents) {
	for {
		fd, sa, err := unix.Accept(ln.h.fd)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if err != nil {
			ln.pushPending(acceptResult{err: mapErrno("accept", err)})
			break
		}
		_ = setNonblock(fd)
		ln.pushPending(acceptResult{fd: fd, addr: sockaddrToTCPAddr(sa)})
	}
	ln.mu.Lock()
	waiting := ln.waiting
	ln.waiting = nil
	ln.mu.Unlock()
	if waiting != nil {
		waiting.tryWake(nil)
	}
}

func (ln *TCPListener) pushPending(res acceptResult) {
	ln.mu.Lock()
	ln.pending = append(ln.pending, res)
	ln.mu.Unlock()
}

// CloseAccept stops the listener from accepting further connections and
// wakes any parked acceptor so it re-checks the queue and observes
// ErrEOF once drained — distinct from destroying the listening fd, which
// this still does, but only after the closed flag and wakeup are visible,
// so connections already queued ahead of the close are still delivered by
// a subsequent Accept.
func (ln *TCPListener) CloseAccept() error {
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
	return ln.h.closeAsync("close_accept")
}

// SetAcceptTimeout arms a standing deadline covering whichever Accept is
// currently parked or starts next. d <= 0 clears the deadline. A deadline
// firing never drops an already-queued connection — it only cancels the
// wait for the *next* one, unblocking Accept with ErrCanceled.
func (ln *TCPListener) SetAcceptTimeout(d time.Duration) {
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

// Addr returns the address the listener is bound to.
func (ln *TCPListener) Addr() (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(ln.h.fd)
	if err != nil {
		return nil, mapErrno("socket_name", err)
	}
	return sockaddrToTCPAddr(sa), nil
}

// ConnectTCP dials a TCP connection to addr, failing with a canceled error
// if ctx expires (or timeout elapses) before the connection completes.
func ConnectTCP(ctx context.Context, l *Loop, addr string, timeout time.Duration) (*TCPConn, error) {
	sa, family, err := resolveTCPAddr(addr)
	if err != nil {
		return nil, newError("connect_tcp", CodeInvalid, err)
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, mapErrno("connect_tcp", err)
	}
	if err := setNonblock(fd); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("connect_tcp", err)
	}

	h := l.makeHandle(handleKindTCP, fd)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

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

	if errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); err == nil && errno != 0 {
		_ = closeFD(fd)
		return nil, mapErrno("connect_tcp", unix.Errno(errno))
	}

	conn := &TCPConn{h: h, stream: newStream(h)}
	return conn, nil
}

// Read reads from the connection.
func (c *TCPConn) Read(ctx context.Context, buf []byte) (int, error) { return c.stream.Read(ctx, buf) }

// Write writes to the connection.
func (c *TCPConn) Write(ctx context.Context, buf []byte) (int, error) {
	return c.stream.Write(ctx, buf)
}

// CancelRead aborts any Read currently in flight on this connection.
func (c *TCPConn) CancelRead() { c.stream.CancelRead() }

// CloseRead shuts down the read half of the connection: any Read in flight
// on this connection or a clone of it is canceled with ErrEOF, and further
// Read calls fail the same way, without affecting writes.
func (c *TCPConn) CloseRead() error {
	c.stream.closeReadHalf()
	if err := unix.Shutdown(c.h.fd, unix.SHUT_RD); err != nil {
		return mapErrno("close_read", err)
	}
	return nil
}

// CloseWrite shuts down the write half of the connection.
func (c *TCPConn) CloseWrite() error {
	if err := unix.Shutdown(c.h.fd, unix.SHUT_WR); err != nil {
		return mapErrno("close_write", err)
	}
	return nil
}

// Close closes the connection entirely.
func (c *TCPConn) Close() error { return c.h.closeAsync("close") }

// SocketName returns the connection's local address.
func (c *TCPConn) SocketName() (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(c.h.fd)
	if err != nil {
		return nil, mapErrno("socket_name", err)
	}
	return sockaddrToTCPAddr(sa), nil
}

// PeerName returns the connection's remote address.
func (c *TCPConn) PeerName() (*net.TCPAddr, error) {
	sa, err := unix.Getpeername(c.h.fd)
	if err != nil {
		return nil, mapErrno("peer_name", err)
	}
	return sockaddrToTCPAddr(sa), nil
}

// SetNoDelay toggles TCP_NODELAY (disabling/enabling Nagle's algorithm).
func (c *TCPConn) SetNoDelay(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	if err := unix.SetsockoptInt(c.h.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return mapErrno("nodelay", err)
	}
	return nil
}

// SetKeepAlive toggles SO_KEEPALIVE, with the given probe interval when
// enabled (best-effort: platforms without TCP_KEEPALIVE/TCP_KEEPIDLE just
// get the boolean toggle).
func (c *TCPConn) SetKeepAlive(enabled bool, interval time.Duration) error {
	v := 0
	if enabled {
		v = 1
	}
	if err := unix.SetsockoptInt(c.h.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v); err != nil {
		return mapErrno("keepalive", err)
	}
	if enabled && interval > 0 {
		setKeepAliveInterval(c.h.fd, interval)
	}
	return nil
}

// SetReadTimeout arms a standing deadline covering whichever Read is
// currently parked or starts next on this connection (and any of its
// clones, since they share the underlying Stream). d <= 0 clears it.
func (c *TCPConn) SetReadTimeout(d time.Duration) { c.stream.SetReadTimeout(d) }

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	default:
		return nil
	}
}

func resolveTCPAddr(addr string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, err
	}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = tcpAddr.Port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = tcpAddr.Port
	copy(sa.Addr[:], tcpAddr.IP.To16())
	return &sa, unix.AF_INET6, nil
}

package asyncrt

import (
	"context"
	"net"

	"golang.org/x/sys/unix"
)

// UDPConn is a bound, connectionless UDP socket.
type UDPConn struct {
	h *handle

	recvAccess Access[struct{}]
	sendAccess Access[struct{}]

	mask IOEvents

	pendingRecvBuf []byte
	pendingRecv    *BlockedTask[udpRecvResult]

	pendingSendBuf  []byte
	pendingSendAddr unix.Sockaddr
	pendingSend     *BlockedTask[udpSendResult]
}

type udpRecvResult struct {
	n    int
	addr *net.UDPAddr
	err  error
}

type udpSendResult struct {
	n   int
	err error
}

// ListenUDP binds a UDP socket to addr ("host:port", "" host means any).
func ListenUDP(l *Loop, addr string) (*UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, newError("listen_udp", CodeInvalid, err)
	}

	family := unix.AF_INET
	if udpAddr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, mapErrno("listen_udp", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := setNonblock(fd); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_udp", err)
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		var a unix.SockaddrInet4
		a.Port = udpAddr.Port
		copy(a.Addr[:], udpAddr.IP.To4())
		sa = &a
	} else {
		var a unix.SockaddrInet6
		a.Port = udpAddr.Port
		copy(a.Addr[:], udpAddr.IP.To16())
		sa = &a
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = closeFD(fd)
		return nil, mapErrno("listen_udp", err)
	}

	h := l.makeHandle(handleKindUDP, fd)
	return &UDPConn{h: h}, nil
}

func (c *UDPConn) ensureRegistered() {
	want := IOEvents(0)
	if c.pendingRecv != nil {
		want |= EventRead
	}
	if c.pendingSend != nil {
		want |= EventWrite
	}
	if want == c.mask {
		return
	}
	switch {
	case c.mask == 0 && want != 0:
		_ = c.h.loop.poller.registerFD(c.h.fd, want, c.onReady)
	case want == 0 && c.mask != 0:
		_ = c.h.loop.poller.unregisterFD(c.h.fd)
	default:
		_ = c.h.loop.poller.modifyFD(c.h.fd, want)
	}
	c.mask = want
}

func (c *UDPConn) onReady(events IOEvents) {
	if events&EventRead != 0 && c.pendingRecv != nil {
		bt, buf := c.pendingRecv, c.pendingRecvBuf
		c.pendingRecv, c.pendingRecvBuf = nil, nil
		c.attemptRecv(buf, bt)
	}
	if events&EventWrite != 0 && c.pendingSend != nil {
		bt, buf, addr := c.pendingSend, c.pendingSendBuf, c.pendingSendAddr
		c.pendingSend, c.pendingSendBuf, c.pendingSendAddr = nil, nil, nil
		c.attemptSend(buf, addr, bt)
	}
	c.ensureRegistered()
}

// attemptRecv retries on EAGAIN; a 0-length result is a genuinely valid
// empty UDP datagram (unlike a TCP 0-byte read, which means EOF) and is
// delivered to the caller rather than treated as end-of-stream or retried.
func (c *UDPConn) attemptRecv(buf []byte, bt *BlockedTask[udpRecvResult]) {
	n, from, err := unix.Recvfrom(c.h.fd, buf, 0)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		c.pendingRecvBuf, c.pendingRecv = buf, bt
		c.ensureRegistered()
	case err != nil:
		bt.wake(udpRecvResult{0, nil, mapErrno("recv_from", err)})
	default:
		bt.wake(udpRecvResult{n, sockaddrToUDPAddr(from), nil})
	}
}

func (c *UDPConn) attemptSend(buf []byte, addr unix.Sockaddr, bt *BlockedTask[udpSendResult]) {
	err := unix.Sendto(c.h.fd, buf, 0, addr)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		c.pendingSendBuf, c.pendingSendAddr, c.pendingSend = buf, addr, bt
		c.ensureRegistered()
	case err != nil:
		bt.wake(udpSendResult{0, mapErrno("send_to", err)})
	default:
		bt.wake(udpSendResult{len(buf), nil})
	}
}

// RecvFrom receives a single datagram into buf.
func (c *UDPConn) RecvFrom(ctx context.Context, buf []byte) (int, *net.UDPAddr, error) {
	release, err := c.recvAccess.Acquire(c.h.loop, struct{}{})
	if err != nil {
		return 0, nil, err
	}
	defer release()

	res, cerr := blockCtx[udpRecvResult](c.h.loop, ctx, udpRecvResult{}, func(bt *BlockedTask[udpRecvResult]) func() {
		fireHomingMissile(c.h.loop.homeHandle()).Run(func() {
			c.attemptRecv(buf, bt)
		})
		return func() {
			c.h.loop.queue.submitWait(func() {
				if c.pendingRecv != nil {
					c.pendingRecv, c.pendingRecvBuf = nil, nil
					c.ensureRegistered()
				}
			})
		}
	})
	if cerr != nil {
		return 0, nil, cerr
	}
	return res.n, res.addr, res.err
}

// SendTo sends buf as a single datagram to addr.
func (c *UDPConn) SendTo(ctx context.Context, buf []byte, addr string) (int, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, newError("send_to", CodeInvalid, err)
	}
	var sa unix.Sockaddr
	if ip4 := udpAddr.IP.To4(); ip4 != nil {
		var a unix.SockaddrInet4
		a.Port = udpAddr.Port
		copy(a.Addr[:], ip4)
		sa = &a
	} else {
		var a unix.SockaddrInet6
		a.Port = udpAddr.Port
		copy(a.Addr[:], udpAddr.IP.To16())
		sa = &a
	}

	release, err := c.sendAccess.Acquire(c.h.loop, struct{}{})
	if err != nil {
		return 0, err
	}
	defer release()

	res, cerr := blockCtx[udpSendResult](c.h.loop, ctx, udpSendResult{}, func(bt *BlockedTask[udpSendResult]) func() {
		fireHomingMissile(c.h.loop.homeHandle()).Run(func() {
			c.attemptSend(buf, sa, bt)
		})
		return func() {
			c.h.loop.queue.submitWait(func() {
				if c.pendingSend != nil {
					c.pendingSend, c.pendingSendBuf, c.pendingSendAddr = nil, nil, nil
					c.ensureRegistered()
				}
			})
		}
	})
	if cerr != nil {
		return 0, cerr
	}
	return res.n, res.err
}

func (c *UDPConn) Close() error { return c.h.closeAsync("close") }

// SetBroadcast toggles SO_BROADCAST.
func (c *UDPConn) SetBroadcast(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	if err := unix.SetsockoptInt(c.h.fd, unix.SOL_SOCKET, unix.SO_BROADCAST, v); err != nil {
		return mapErrno("broadcast", err)
	}
	return nil
}

// SetTTL sets the unicast IP_TTL.
func (c *UDPConn) SetTTL(ttl int) error {
	if err := unix.SetsockoptInt(c.h.fd, unix.IPPROTO_IP, unix.IP_TTL, ttl); err != nil {
		return mapErrno("ttl", err)
	}
	return nil
}

// SetMulticastTTL sets IP_MULTICAST_TTL.
func (c *UDPConn) SetMulticastTTL(ttl int) error {
	if err := unix.SetsockoptInt(c.h.fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl); err != nil {
		return mapErrno("multicast_ttl", err)
	}
	return nil
}

// SetMulticastLoop toggles IP_MULTICAST_LOOP.
func (c *UDPConn) SetMulticastLoop(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	if err := unix.SetsockoptInt(c.h.fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, v); err != nil {
		return mapErrno("multicast_loop", err)
	}
	return nil
}

// JoinMulticastGroup joins group via IP_ADD_MEMBERSHIP.
func (c *UDPConn) JoinMulticastGroup(group net.IP) error {
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())
	if err := unix.SetsockoptIPMreq(c.h.fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return mapErrno("membership", err)
	}
	return nil
}

// LeaveMulticastGroup leaves group via IP_DROP_MEMBERSHIP.
func (c *UDPConn) LeaveMulticastGroup(group net.IP) error {
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())
	if err := unix.SetsockoptIPMreq(c.h.fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq); err != nil {
		return mapErrno("membership", err)
	}
	return nil
}

func sockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	default:
		return nil
	}
}

// Copyright 2026 The asyncrt Authors
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import "sync/atomic"

// IOEvents is a bitmask of the I/O readiness conditions a handle can be
// registered for with the reactor poller.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// IOCallback is invoked by the reactor poller on the Loop's own goroutine
// whenever a registered descriptor's readiness matches its registered
// IOEvents. It must never block.
type IOCallback func(IOEvents)

// reactorPoller is the platform-specific half of the reactor: epoll on
// Linux, kqueue on Darwin. Implemented in poller_linux.go / poller_darwin.go.
type reactorPoller interface {
	init() error
	close() error
	registerFD(fd int, events IOEvents, cb IOCallback) error
	unregisterFD(fd int) error
	modifyFD(fd int, events IOEvents) error
	// pollIO blocks for up to timeoutMs milliseconds (negative blocks
	// indefinitely, 0 never blocks) waiting for registered descriptors to
	// become ready, dispatching IOCallback for each one that fired.
	pollIO(timeoutMs int) (int, error)
}

// handleKind distinguishes the kind of long-lived reactor object a handle
// wraps, purely for diagnostics and data-slot typing at this layer — the
// typed façades (TCPConn, UDPConn, ...) carry their own Go-typed data.
type handleKind uint8

const (
	handleKindTCP handleKind = iota
	handleKindPipe
	handleKindUDP
	handleKindTTY
	handleKindTimer
	handleKindSignal
	handleKindIdle
	handleKindAsync
)

// handle is a long-lived reactor object: a single untyped data slot, an
// owning Loop, and a reference count backing Clone() on the façades built
// on top of it (TCPConn, PipeConn). Allocation and the data-slot indirection
// are this layer's job; typed façades embed *handle rather than
// re-implementing fd bookkeeping.
type handle struct {
	kind    handleKind
	fd      int
	loop    *Loop
	data    atomic.Pointer[any] // single-writer channel between submitter and completion callback
	refs    atomic.Int32        // starts at 1; the fd closes once this reaches 0
	closed  atomic.Bool
	closeCh chan struct{} // closed exactly once, after the reactor's close callback runs
}

func newHandle(kind handleKind, fd int, loop *Loop) *handle {
	h := &handle{
		kind:    kind,
		fd:      fd,
		loop:    loop,
		closeCh: make(chan struct{}),
	}
	h.refs.Store(1)
	return h
}

// addRef records an additional owner of this handle (a Clone). Each addRef
// must be balanced by one call to closeAsync.
func (h *handle) addRef() { h.refs.Add(1) }

// setData installs v into the handle's data slot. Callers must clear it
// (setData(nil)) once consumed — the slot is a single-writer channel
// between the submitter and the completion callback, not a cache.
func (h *handle) setData(v any) { h.data.Store(&v) }

func (h *handle) getData() any {
	p := h.data.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (h *handle) clearData() { h.data.Store(nil) }

// closeAsync releases one reference to the underlying fd. If other clones
// still hold a reference, it returns immediately without touching the fd.
// Only the call that drops the refcount to zero actually unregisters and
// closes it; memory behind h is only freed after that happens (closeCh
// closes).
//
// close is asynchronous by construction: h must outlive its close callback,
// so the caller is expected to keep a reference (or rely on closeCh) rather
// than deallocate h itself — the ordering (unregister -> syscall close ->
// signal closeCh) matters for correctness of concurrent accept/read/write
// in flight.
func (h *handle) closeAsync(op string) error {
	if h.refs.Add(-1) > 0 {
		return nil
	}
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = h.loop.poller.unregisterFD(h.fd)
	err := closeFD(h.fd)
	close(h.closeCh)
	if err != nil {
		return mapErrno(op, err)
	}
	return nil
}

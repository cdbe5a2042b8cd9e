// Copyright 2026 The asyncrt Authors
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package asyncrt is an asynchronous I/O runtime that multiplexes
// cooperatively scheduled goroutines ("green tasks") onto a single-OS-thread
// event loop, built on top of an epoll (Linux) / kqueue (Darwin) reactor.
//
// # Architecture
//
// A [Loop] owns one reactor instance and a thread-local binding to whichever
// goroutine last called [Loop.Run]. Every long-lived I/O object (TCP, pipe,
// UDP, TTY, timer, signal, idle, async) is bound to the Loop that owns it,
// and that Loop supplies the [HomeHandle] used for homing. Before any
// operation touches a file descriptor, the calling goroutine fires a
// [HomingMissile] for the owning Loop's HomeHandle, runs the operation, and
// releases the missile, symmetrically returning to its origin Loop.
//
// Blocking-style calls ([TCPConn.Read], [TCPConn.Write], [TCPListener.Accept],
// [Sleep], [GetHostAddresses], ...) suspend the calling goroutine via
// [block], parking it on a single-slot channel until the reactor's
// completion callback fires and calls [BlockedTask.wake] (or
// [BlockedTask.tryWake] when a completion can race a cancellation). This is
// the "green task" scheduling a cooperative runtime would otherwise
// multiplex explicitly; the Go goroutine scheduler already provides it, so
// no separate task executor is implemented.
//
// # Platform support
//
// The reactor is implemented using platform-native mechanisms:
//   - Linux: epoll, eventfd
//   - Darwin: kqueue, pipe
//
// # Thread safety
//
// A [Loop] itself is single-threaded: handles are only ever touched by the
// goroutine holding the current [HomingMissile] for that handle's owning
// Loop. Cross-goroutine and cross-Loop communication goes exclusively
// through the queue pool ([queuePool]) and the Access/AccessTimeout FIFO
// arbitration layer — see [Access] and [AccessTimeout].
//
// # Usage
//
//	loop, err := asyncrt.NewLoop()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go func() { _ = loop.Run() }()
//	defer loop.Shutdown(context.Background())
//
//	ln, err := asyncrt.ListenTCP(loop, "127.0.0.1:0", 0) // 0: use the default backlog
//	if err != nil {
//	    log.Fatal(err)
//	}
//	conn, err := ln.Accept(context.Background())
package asyncrt

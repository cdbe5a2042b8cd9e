// Copyright 2026 The asyncrt Authors
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPRoundTrip(t *testing.T) {
	l := newTestLoop(t)

	ln, err := ListenTCP(l, "127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.CloseAccept()

	addr, err := ln.Addr()
	require.NoError(t, err)

	acceptedCh := make(chan *TCPConn, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptedCh <- conn
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := ConnectTCP(ctx, l, fmt.Sprintf("127.0.0.1:%d", addr.Port), time.Second)
	require.NoError(t, err)
	defer client.Close()

	var server *TCPConn
	select {
	case server = <-acceptedCh:
	case err := <-acceptErrCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}
	defer server.Close()

	payload := []byte("hello, asyncrt")
	n, err := client.Write(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	total := 0
	for total < len(payload) {
		n, err := server.Read(context.Background(), buf[total:])
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, payload, buf)
}

func TestTCPConnectRefused(t *testing.T) {
	l := newTestLoop(t)

	ln, err := ListenTCP(l, "127.0.0.1:0", 0)
	require.NoError(t, err)
	addr, err := ln.Addr()
	require.NoError(t, err)
	require.NoError(t, ln.CloseAccept())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = ConnectTCP(ctx, l, fmt.Sprintf("127.0.0.1:%d", addr.Port), time.Second)
	require.Error(t, err)
}

func TestTCPCancelReadUnblocksReader(t *testing.T) {
	l := newTestLoop(t)

	ln, err := ListenTCP(l, "127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.CloseAccept()
	addr, err := ln.Addr()
	require.NoError(t, err)

	acceptedCh := make(chan *TCPConn, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		require.NoError(t, err)
		acceptedCh <- conn
	}()

	client, err := ConnectTCP(context.Background(), l, fmt.Sprintf("127.0.0.1:%d", addr.Port), time.Second)
	require.NoError(t, err)
	defer client.Close()

	server := <-acceptedCh
	defer server.Close()

	readErrCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := server.Read(context.Background(), buf)
		readErrCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	server.CancelRead()

	select {
	case err := <-readErrCh:
		assert.True(t, IsCanceled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("CancelRead did not unblock the pending Read")
	}
}

func TestTCPCloneSharesCloseRead(t *testing.T) {
	l := newTestLoop(t)

	ln, err := ListenTCP(l, "127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.CloseAccept()
	addr, err := ln.Addr()
	require.NoError(t, err)

	acceptedCh := make(chan *TCPConn, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		require.NoError(t, err)
		acceptedCh <- conn
	}()

	client, err := ConnectTCP(context.Background(), l, fmt.Sprintf("127.0.0.1:%d", addr.Port), time.Second)
	require.NoError(t, err)
	defer client.Close()

	server := <-acceptedCh
	defer server.Close()

	clone := server.Clone()
	defer clone.Close()

	readErrCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := server.Read(context.Background(), buf)
		readErrCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	// CloseRead on the clone must unblock the Read parked on the original,
	// since both share the same underlying Stream.
	require.NoError(t, clone.CloseRead())

	select {
	case err := <-readErrCh:
		assert.ErrorIs(t, err, ErrEOF)
	case <-time.After(2 * time.Second):
		t.Fatal("clone's CloseRead did not unblock the original's pending Read")
	}

	// The fd itself must still be usable until both clones are closed: a
	// fresh Read (failing fast with ErrEOF, since read access is closed) must
	// not also error as "bad file descriptor".
	_, err = server.Read(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, ErrEOF)
}

func TestTCPAcceptTimeoutCancelsParkedAccept(t *testing.T) {
	l := newTestLoop(t)

	ln, err := ListenTCP(l, "127.0.0.1:0", 0)
	require.NoError(t, err)
	defer ln.CloseAccept()

	ln.SetAcceptTimeout(20 * time.Millisecond)

	_, err = ln.Accept(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestTCPAcceptDeliversConnectionQueuedBeforeCloseAccept(t *testing.T) {
	l := newTestLoop(t)

	ln, err := ListenTCP(l, "127.0.0.1:0", 0)
	require.NoError(t, err)
	addr, err := ln.Addr()
	require.NoError(t, err)

	client, err := ConnectTCP(context.Background(), l, fmt.Sprintf("127.0.0.1:%d", addr.Port), time.Second)
	require.NoError(t, err)
	defer client.Close()

	// Give the reactor a chance to pull the connection into the listener's
	// pending queue before CloseAccept runs.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, ln.CloseAccept())

	conn, err := ln.Accept(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = ln.Accept(context.Background())
	assert.ErrorIs(t, err, ErrEOF)
}

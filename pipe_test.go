package asyncrt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeRoundTrip(t *testing.T) {
	l := newTestLoop(t)
	sockPath := filepath.Join(t.TempDir(), "test.sock")

	ln, err := ListenPipe(l, sockPath, 0)
	require.NoError(t, err)
	defer ln.CloseAccept()

	acceptedCh := make(chan *PipeConn, 1)
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
	client, err := ConnectPipe(ctx, l, sockPath)
	require.NoError(t, err)
	defer client.Close()

	var server *PipeConn
	select {
	case server = <-acceptedCh:
	case err := <-acceptErrCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}
	defer server.Close()

	payload := []byte("hello, pipe")
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

func TestPipeConnectNoListenerFails(t *testing.T) {
	l := newTestLoop(t)
	sockPath := filepath.Join(t.TempDir(), "missing.sock")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ConnectPipe(ctx, l, sockPath)
	assert.Error(t, err)
}

func TestPipeCloneSharesCloseRead(t *testing.T) {
	l := newTestLoop(t)
	sockPath := filepath.Join(t.TempDir(), "clone.sock")

	ln, err := ListenPipe(l, sockPath, 0)
	require.NoError(t, err)
	defer ln.CloseAccept()

	acceptedCh := make(chan *PipeConn, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		require.NoError(t, err)
		acceptedCh <- conn
	}()

	client, err := ConnectPipe(context.Background(), l, sockPath)
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

	// Read access is shared by the clones, so a fresh Read on the original
	// also fails fast with ErrEOF.
	_, err = server.Read(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, ErrEOF)
}

func TestPipeAcceptTimeoutCancelsParkedAccept(t *testing.T) {
	l := newTestLoop(t)
	sockPath := filepath.Join(t.TempDir(), "timeout.sock")

	ln, err := ListenPipe(l, sockPath, 0)
	require.NoError(t, err)
	defer ln.CloseAccept()

	ln.SetAcceptTimeout(20 * time.Millisecond)

	_, err = ln.Accept(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestPipeReadTimeoutCancelsParkedRead(t *testing.T) {
	l := newTestLoop(t)
	sockPath := filepath.Join(t.TempDir(), "read-timeout.sock")

	ln, err := ListenPipe(l, sockPath, 0)
	require.NoError(t, err)
	defer ln.CloseAccept()

	acceptedCh := make(chan *PipeConn, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		require.NoError(t, err)
		acceptedCh <- conn
	}()

	client, err := ConnectPipe(context.Background(), l, sockPath)
	require.NoError(t, err)
	defer client.Close()

	server := <-acceptedCh
	defer server.Close()

	server.SetReadTimeout(20 * time.Millisecond)

	_, err = server.Read(context.Background(), make([]byte, 16))
	assert.ErrorIs(t, err, ErrCanceled)
}

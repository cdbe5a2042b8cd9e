package asyncrt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPSendRecv(t *testing.T) {
	l := newTestLoop(t)

	server, err := ListenUDP(l, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()
	serverAddr, err := unixSockname(server.h.fd)
	require.NoError(t, err)

	client, err := ListenUDP(l, "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	payload := []byte("datagram")
	n, err := client.SendTo(context.Background(), payload, fmt.Sprintf("127.0.0.1:%d", serverAddr))
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 64)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rn, _, err := server.RecvFrom(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:rn])
}

func TestUDPZeroLengthDatagramIsNotEOF(t *testing.T) {
	l := newTestLoop(t)

	server, err := ListenUDP(l, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()
	serverAddr, err := unixSockname(server.h.fd)
	require.NoError(t, err)

	client, err := ListenUDP(l, "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.SendTo(context.Background(), nil, fmt.Sprintf("127.0.0.1:%d", serverAddr))
	require.NoError(t, err)

	buf := make([]byte, 64)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, _, err := server.RecvFrom(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

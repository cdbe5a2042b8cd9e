package asyncrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHostAddressesResolvesLocalhost(t *testing.T) {
	l := newTestLoop(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addrs, err := GetHostAddresses(ctx, l, "localhost")
	require.NoError(t, err)
	assert.NotEmpty(t, addrs)
}

func TestGetHostAddressesUnknownHostFails(t *testing.T) {
	l := newTestLoop(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := GetHostAddresses(ctx, l, "this-host-definitely-does-not-exist.invalid")
	assert.Error(t, err)
}

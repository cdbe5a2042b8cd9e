package asyncrt

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestTTY returns a TTY wrapping the current process's controlling
// terminal, skipping the test when none is attached (the common case under
// CI, where stdin is a pipe rather than a pty).
func openTestTTY(t *testing.T, l *Loop) *TTY {
	t.Helper()
	if _, err := ioctlGetTermios(int(os.Stdin.Fd())); err != nil {
		t.Skip("no controlling terminal available in this environment")
	}
	tty, err := OpenTTY(l, int(os.Stdin.Fd()))
	require.NoError(t, err)
	return tty
}

func TestTTYRawModeRoundTrip(t *testing.T) {
	l := newTestLoop(t)
	tty := openTestTTY(t, l)
	defer tty.Close()

	before, err := ioctlGetTermios(tty.h.fd)
	require.NoError(t, err)

	require.NoError(t, tty.SetRawMode(true))
	require.NoError(t, tty.SetRawMode(false))

	after, err := ioctlGetTermios(tty.h.fd)
	require.NoError(t, err)
	assert.Equal(t, before.Lflag, after.Lflag)
}

func TestTTYWinSize(t *testing.T) {
	l := newTestLoop(t)
	tty := openTestTTY(t, l)
	defer tty.Close()

	_, _, err := tty.WinSize()
	assert.NoError(t, err)
}

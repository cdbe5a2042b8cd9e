//go:build darwin

package asyncrt

import (
	"time"

	"golang.org/x/sys/unix"
)

// setKeepAliveInterval sets TCP_KEEPALIVE (seconds before the first probe)
// on fd, best-effort — Darwin has no separate inter-probe-interval knob.
func setKeepAliveInterval(fd int, interval time.Duration) {
	secs := int(interval / time.Second)
	if secs <= 0 {
		secs = 1
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, secs)
}

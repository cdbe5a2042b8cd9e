//go:build linux

package asyncrt

import (
	"time"

	"golang.org/x/sys/unix"
)

// setKeepAliveInterval sets TCP_KEEPINTVL (seconds between probes) on fd,
// best-effort.
func setKeepAliveInterval(fd int, interval time.Duration) {
	secs := int(interval / time.Second)
	if secs <= 0 {
		secs = 1
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
}

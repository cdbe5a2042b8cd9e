//go:build linux

package asyncrt

import "golang.org/x/sys/unix"

const (
	ioctlGetTermiosRequest = unix.TCGETS
	ioctlSetTermiosRequest = unix.TCSETS
)

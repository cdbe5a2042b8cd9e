//go:build darwin

package asyncrt

import "golang.org/x/sys/unix"

const (
	ioctlGetTermiosRequest = unix.TIOCGETA
	ioctlSetTermiosRequest = unix.TIOCSETA
)

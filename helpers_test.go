package asyncrt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// unixSockname returns the port a bound socket fd is listening on, for
// tests that need to dial back into an ephemeral-port UDP/TCP socket.
func unixSockname(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	default:
		return 0, fmt.Errorf("unsupported sockaddr type %T", sa)
	}
}

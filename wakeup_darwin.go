//go:build darwin

package asyncrt

import "golang.org/x/sys/unix"

// createWakeFd creates a pipe used to wake the reactor poller from another
// goroutine. Darwin has no eventfd equivalent, so kqueue-registered
// wake-ups go through a non-blocking pipe instead, the same way libuv's
// kqueue backend signals its event loop.
func createWakeFd() (readFd, writeFd int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func drainWake(fd int) {
	var buf [64]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}

func signalWake(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	return err
}

//go:build linux

package asyncrt

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd used to wake the reactor poller from
// another goroutine. The single fd serves as both read and write end.
func createWakeFd() (readFd, writeFd int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

// drainWake drains all pending wake notifications from an eventfd.
func drainWake(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}

// signalWake writes a single wake notification to an eventfd.
func signalWake(fd int) error {
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(fd, buf)
	return err
}

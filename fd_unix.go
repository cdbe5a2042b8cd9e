//go:build linux || darwin

package asyncrt

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Standard poller errors.
var (
	ErrFDAlreadyRegistered = errors.New("asyncrt: fd already registered")
	ErrFDNotRegistered     = errors.New("asyncrt: fd not registered")
)

func closeFD(fd int) error { return unix.Close(fd) }

func readFD(fd int, buf []byte) (int, error) { return unix.Read(fd, buf) }

func writeFD(fd int, buf []byte) (int, error) { return unix.Write(fd, buf) }

func setNonblock(fd int) error { return unix.SetNonblock(fd, true) }

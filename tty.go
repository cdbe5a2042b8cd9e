package asyncrt

import (
	"context"

	"golang.org/x/sys/unix"
)

// TTY wraps an existing terminal file descriptor (stdin, stdout, or a
// pty) for non-blocking reads/writes plus raw-mode and window-size
// control.
type TTY struct {
	h        *handle
	stream   *Stream
	origTerm unix.Termios
	hasOrig  bool
}

// OpenTTY adopts fd (already open, e.g. os.Stdin.Fd()) as a TTY handle.
func OpenTTY(l *Loop, fd int) (*TTY, error) {
	if err := setNonblock(fd); err != nil {
		return nil, mapErrno("open_tty", err)
	}
	h := l.makeHandle(handleKindTTY, fd)
	return &TTY{h: h, stream: newStream(h)}, nil
}

func (t *TTY) Read(ctx context.Context, buf []byte) (int, error) { return t.stream.Read(ctx, buf) }

func (t *TTY) Write(ctx context.Context, buf []byte) (int, error) {
	return t.stream.Write(ctx, buf)
}

func (t *TTY) CancelRead() { t.stream.CancelRead() }

// Close restores the original termios (if SetRawMode ever changed it) and
// closes the handle's fd bookkeeping — it does not close the underlying
// fd, which the TTY did not open itself.
func (t *TTY) Close() error {
	if t.hasOrig {
		_ = ioctlSetTermios(t.h.fd, &t.origTerm)
	}
	t.h.closed.Store(true)
	return nil
}

// SetRawMode toggles canonical/echo processing. Enabling it for the first
// time snapshots the current termios so a later Close (or a second
// SetRawMode(false)) can restore it.
func (t *TTY) SetRawMode(enabled bool) error {
	cur, err := ioctlGetTermios(t.h.fd)
	if err != nil {
		return mapErrno("raw_mode", err)
	}
	if !t.hasOrig {
		t.origTerm = *cur
		t.hasOrig = true
	}
	if !enabled {
		return mapErrno("raw_mode", ioctlSetTermios(t.h.fd, &t.origTerm))
	}

	raw := *cur
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	return mapErrno("raw_mode", ioctlSetTermios(t.h.fd, &raw))
}

// WinSize reports the terminal's row/column count.
func (t *TTY) WinSize() (rows, cols uint16, err error) {
	ws, e := unix.IoctlGetWinsize(t.h.fd, unix.TIOCGWINSZ)
	if e != nil {
		return 0, 0, mapErrno("winsize", e)
	}
	return ws.Row, ws.Col, nil
}

// SetWinSize resizes the terminal.
func (t *TTY) SetWinSize(rows, cols uint16) error {
	ws := &unix.Winsize{Row: rows, Col: cols}
	if err := unix.IoctlSetWinsize(t.h.fd, unix.TIOCSWINSZ, ws); err != nil {
		return mapErrno("winsize", err)
	}
	return nil
}

func ioctlGetTermios(fd int) (*unix.Termios, error) {
	return unix.IoctlGetTermios(fd, ioctlGetTermiosRequest)
}

func ioctlSetTermios(fd int, t *unix.Termios) error {
	return unix.IoctlSetTermios(fd, ioctlSetTermiosRequest, t)
}

package asyncrt

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Code identifies the stable error taxonomy the reactor's completion
// callbacks surface, mirroring the named errors of the external OS-reactor
// error space rather than Go's *os.SyscallError wrapping.
type Code int

const (
	// CodeUnknown covers environment failures that have no stable name,
	// e.g. "no current loop on this thread".
	CodeUnknown Code = iota
	CodeEOF
	CodeCanceled
	CodeAccessDenied
	CodeConnRefused
	CodeConnReset
	CodeConnAborted
	CodeNotConnected
	CodeAddrInUse
	CodeAddrNotAvail
	CodeNotFound
	CodeBrokenPipe
	CodePermission
	CodeBadFD
	CodeInvalid
)

// String returns the stable, language-neutral name for c (e.g. "EOF",
// "ECANCELED") rather than a Go-flavored identifier.
func (c Code) String() string {
	switch c {
	case CodeEOF:
		return "EOF"
	case CodeCanceled:
		return "ECANCELED"
	case CodeAccessDenied:
		return "EACCES"
	case CodeConnRefused:
		return "ECONNREFUSED"
	case CodeConnReset:
		return "ECONNRESET"
	case CodeConnAborted:
		return "ECONNABORTED"
	case CodeNotConnected:
		return "ENOTCONN"
	case CodeAddrInUse:
		return "EADDRINUSE"
	case CodeAddrNotAvail:
		return "EADDRNOTAVAIL"
	case CodeNotFound:
		return "ENOENT"
	case CodeBrokenPipe:
		return "EPIPE"
	case CodePermission:
		return "EPERM"
	case CodeBadFD:
		return "EBADF"
	case CodeInvalid:
		return "EINVAL"
	default:
		return "UNKNOWN"
	}
}

// Error is the value every asyncrt operation returns on failure. It carries
// a stable Code plus the operation name and, where applicable, the
// underlying OS error it was mapped from.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("asyncrt: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("asyncrt: %s: %s", e.Op, e.Code)
}

// Unwrap exposes the underlying OS error for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code, so that
// errors.Is(err, ErrCanceled) style checks work without exposing Op/Err.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// Sentinel errors for the common cases callers check with errors.Is.
var (
	ErrCanceled   = &Error{Code: CodeCanceled, Op: "sentinel"}
	ErrEOF        = &Error{Code: CodeEOF, Op: "sentinel"}
	ErrNoLoop     = &Error{Code: CodeUnknown, Op: "sentinel", Err: errors.New("no current loop on this thread")}
	ErrNotHomed   = &Error{Code: CodeUnknown, Op: "sentinel", Err: errors.New("task is not homed to the handle's owning loop")}
	ErrDoubleWake = &Error{Code: CodeUnknown, Op: "sentinel", Err: errors.New("double wake of a BlockedTask")}
)

// newError constructs an *Error for op with the given code, wrapping err
// as is; it does not consult mapErrno. A nil err with code
// CodeEOF/CodeCanceled is valid, since those two are frequently synthetic
// (no underlying errno).
func newError(op string, code Code, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// mapErrno maps a raw unix.Errno (the OS-reactor's error space) onto our
// stable Code taxonomy. Unrecognised errno values map to CodeUnknown,
// carrying the original error for diagnostics.
func mapErrno(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return newError(op, CodeUnknown, err)
	}
	switch errno {
	case unix.EACCES:
		return newError(op, CodeAccessDenied, err)
	case unix.ECONNREFUSED:
		return newError(op, CodeConnRefused, err)
	case unix.ECONNRESET:
		return newError(op, CodeConnReset, err)
	case unix.ECONNABORTED:
		return newError(op, CodeConnAborted, err)
	case unix.ENOTCONN:
		return newError(op, CodeNotConnected, err)
	case unix.EADDRINUSE:
		return newError(op, CodeAddrInUse, err)
	case unix.EADDRNOTAVAIL:
		return newError(op, CodeAddrNotAvail, err)
	case unix.ENOENT:
		return newError(op, CodeNotFound, err)
	case unix.EPIPE:
		return newError(op, CodeBrokenPipe, err)
	case unix.EPERM:
		return newError(op, CodePermission, err)
	case unix.EBADF:
		return newError(op, CodeBadFD, err)
	case unix.EINVAL:
		return newError(op, CodeInvalid, err)
	case unix.ECANCELED:
		return newError(op, CodeCanceled, err)
	default:
		return newError(op, CodeUnknown, err)
	}
}

// IsCanceled reports whether err is a CodeCanceled *Error. Completion
// callbacks must check this before treating a reactor result as success —
// ECANCELED must never propagate as a successful read/write/connect (§7).
func IsCanceled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeCanceled
}

// IsEOF reports whether err is a CodeEOF *Error.
func IsEOF(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeEOF
}

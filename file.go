package asyncrt

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// filePool is a small fixed-size worker pool that runs blocking filesystem
// syscalls off the reactor goroutine, delivering results back via
// Loop.RemoteCallback. Regular files are always reported ready by
// epoll/kqueue, so registering them with the poller buys nothing — a
// worker pool is the standard answer to fs ops for any reactor built on
// readiness-based polling.
type filePool struct {
	jobs chan func()
}

func newFilePool(n int) *filePool {
	p := &filePool{jobs: make(chan func(), 256)}
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *filePool) worker() {
	for fn := range p.jobs {
		fn()
	}
}

func (p *filePool) submit(fn func()) { p.jobs <- fn }

// runOnFilePool dispatches fn to the worker pool and blocks the caller for
// its result. A canceled ctx returns ErrCanceled to the caller immediately,
// but fn itself is not interrupted — a blocking syscall already in flight
// in a worker goroutine has no portable cancellation mechanism, so it runs
// to completion in the background and its result is simply discarded.
func runOnFilePool[T any](l *Loop, ctx context.Context, fn func() T) (T, error) {
	return blockCtx[T](l, ctx, *new(T), func(bt *BlockedTask[T]) func() {
		l.files().submit(func() {
			result := fn()
			l.RemoteCallback(func() { bt.tryWake(result) })
		})
		return nil
	})
}

// runFileOp is runOnFilePool specialised for the common "blocking op,
// plain error result" shape, collapsing the worker's error and blockCtx's
// cancellation error into one return.
func runFileOp(l *Loop, ctx context.Context, op string, fn func() error) error {
	opErr, cerr := runOnFilePool(l, ctx, fn)
	if cerr != nil {
		return cerr
	}
	if opErr != nil {
		return mapErrno(op, opErr)
	}
	return nil
}

// File is an open file descriptor whose operations run on the owning
// Loop's file worker pool.
type File struct {
	loop  *Loop
	fd    int
	owned bool
}

type openResult struct {
	fd  int
	err error
}

// OpenFile opens path with the given flags/perm.
func OpenFile(ctx context.Context, l *Loop, path string, flags int, perm os.FileMode) (*File, error) {
	res, cerr := runOnFilePool(l, ctx, func() openResult {
		fd, err := unix.Open(path, flags, uint32(perm))
		return openResult{fd, err}
	})
	if cerr != nil {
		return nil, cerr
	}
	if res.err != nil {
		return nil, mapErrno("open", res.err)
	}
	return &File{loop: l, fd: res.fd, owned: true}, nil
}

// FileFromFD adopts an already-open fd. own controls whether Close also
// closes the underlying fd, making adopted-fd ownership an explicit,
// required choice at the call site rather than an implicit default.
func FileFromFD(l *Loop, fd int, own bool) *File {
	return &File{loop: l, fd: fd, owned: own}
}

type rwResult struct {
	n   int
	err error
}

// ReadAt reads into buf starting at offset, via pread.
func (f *File) ReadAt(ctx context.Context, buf []byte, offset int64) (int, error) {
	res, cerr := runOnFilePool(f.loop, ctx, func() rwResult {
		n, err := unix.Pread(f.fd, buf, offset)
		return rwResult{n, err}
	})
	if cerr != nil {
		return 0, cerr
	}
	if res.err != nil {
		return 0, mapErrno("read", res.err)
	}
	if res.n == 0 {
		return 0, ErrEOF
	}
	return res.n, nil
}

// WriteAt writes buf starting at offset, via pwrite.
func (f *File) WriteAt(ctx context.Context, buf []byte, offset int64) (int, error) {
	res, cerr := runOnFilePool(f.loop, ctx, func() rwResult {
		n, err := unix.Pwrite(f.fd, buf, offset)
		return rwResult{n, err}
	})
	if cerr != nil {
		return 0, cerr
	}
	if res.err != nil {
		return 0, mapErrno("write", res.err)
	}
	return res.n, nil
}

// Close closes the file descriptor, unless it was adopted via
// FileFromFD(..., own: false), in which case the fd outlives the File.
func (f *File) Close(ctx context.Context) error {
	if !f.owned {
		return nil
	}
	return runFileOp(f.loop, ctx, "close", func() error { return unix.Close(f.fd) })
}

// Seek repositions the file's offset, the one synchronous primitive on
// File: lseek never blocks on a regular file, so there is nothing to hand
// off to the worker pool.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	off, err := unix.Seek(f.fd, offset, whence)
	if err != nil {
		return 0, mapErrno("seek", err)
	}
	return off, nil
}

// Fsync flushes the file's in-kernel buffers to the underlying device.
func (f *File) Fsync(ctx context.Context) error {
	return runFileOp(f.loop, ctx, "fsync", func() error { return unix.Fsync(f.fd) })
}

// Truncate changes the file's size to length, extending it with zeros or
// discarding trailing data as needed.
func (f *File) Truncate(ctx context.Context, length int64) error {
	return runFileOp(f.loop, ctx, "truncate", func() error { return unix.Ftruncate(f.fd, length) })
}

// Chmod changes the file's permission bits.
func (f *File) Chmod(ctx context.Context, perm os.FileMode) error {
	return runFileOp(f.loop, ctx, "chmod", func() error { return unix.Fchmod(f.fd, uint32(perm)) })
}

// Chown changes the file's owning uid/gid.
func (f *File) Chown(ctx context.Context, uid, gid int) error {
	return runFileOp(f.loop, ctx, "chown", func() error { return unix.Fchown(f.fd, uid, gid) })
}

type statResult struct {
	fi  os.FileInfo
	err error
}

// Stat stats path.
func Stat(ctx context.Context, l *Loop, path string) (os.FileInfo, error) {
	res, cerr := runOnFilePool(l, ctx, func() statResult {
		fi, err := os.Stat(path)
		return statResult{fi, err}
	})
	if cerr != nil {
		return nil, cerr
	}
	if res.err != nil {
		return nil, newError("stat", CodeNotFound, res.err)
	}
	return res.fi, nil
}

// Mkdir creates a single directory.
func Mkdir(ctx context.Context, l *Loop, path string, perm os.FileMode) error {
	return runFileOp(l, ctx, "mkdir", func() error { return os.Mkdir(path, perm) })
}

// MkdirRecursive creates path and any missing parents, matching os.MkdirAll
// semantics (succeeds if path already exists as a directory).
func MkdirRecursive(ctx context.Context, l *Loop, path string, perm os.FileMode) error {
	return runFileOp(l, ctx, "mkdir_recursive", func() error { return os.MkdirAll(path, perm) })
}

// Rmdir removes a single empty directory.
func Rmdir(ctx context.Context, l *Loop, path string) error {
	return runFileOp(l, ctx, "rmdir", func() error { return unix.Rmdir(path) })
}

// RmdirRecursive removes path and everything beneath it, matching
// os.RemoveAll semantics.
func RmdirRecursive(ctx context.Context, l *Loop, path string) error {
	return runFileOp(l, ctx, "rmdir_recursive", func() error { return os.RemoveAll(path) })
}

// Unlink removes a single file.
func Unlink(ctx context.Context, l *Loop, path string) error {
	return runFileOp(l, ctx, "unlink", func() error { return unix.Unlink(path) })
}

// Rename renames oldpath to newpath.
func Rename(ctx context.Context, l *Loop, oldpath, newpath string) error {
	return runFileOp(l, ctx, "rename", func() error { return unix.Rename(oldpath, newpath) })
}

// Link creates newpath as a hard link to oldpath.
func Link(ctx context.Context, l *Loop, oldpath, newpath string) error {
	return runFileOp(l, ctx, "link", func() error { return unix.Link(oldpath, newpath) })
}

// Symlink creates newpath as a symbolic link pointing at target.
func Symlink(ctx context.Context, l *Loop, target, newpath string) error {
	return runFileOp(l, ctx, "symlink", func() error { return unix.Symlink(target, newpath) })
}

type readlinkResult struct {
	target string
	err    error
}

// Readlink returns the target a symbolic link points at.
func Readlink(ctx context.Context, l *Loop, path string) (string, error) {
	res, cerr := runOnFilePool(l, ctx, func() readlinkResult {
		target, err := os.Readlink(path)
		return readlinkResult{target, err}
	})
	if cerr != nil {
		return "", cerr
	}
	if res.err != nil {
		return "", newError("readlink", CodeNotFound, res.err)
	}
	return res.target, nil
}

type readdirResult struct {
	entries []os.DirEntry
	err     error
}

// Readdir lists the entries of the directory at path.
func Readdir(ctx context.Context, l *Loop, path string) ([]os.DirEntry, error) {
	res, cerr := runOnFilePool(l, ctx, func() readdirResult {
		entries, err := os.ReadDir(path)
		return readdirResult{entries, err}
	})
	if cerr != nil {
		return nil, cerr
	}
	if res.err != nil {
		return nil, newError("readdir", CodeNotFound, res.err)
	}
	return res.entries, nil
}

// Chmod changes the permission bits of the file at path.
func Chmod(ctx context.Context, l *Loop, path string, perm os.FileMode) error {
	return runFileOp(l, ctx, "chmod", func() error { return os.Chmod(path, perm) })
}

// Chown changes the owning uid/gid of the file at path.
func Chown(ctx context.Context, l *Loop, path string, uid, gid int) error {
	return runFileOp(l, ctx, "chown", func() error { return os.Chown(path, uid, gid) })
}

// Utime sets the access and modification times of the file at path.
func Utime(ctx context.Context, l *Loop, path string, atime, mtime time.Time) error {
	return runFileOp(l, ctx, "utime", func() error { return os.Chtimes(path, atime, mtime) })
}

// Truncate changes the size of the file at path.
func Truncate(ctx context.Context, l *Loop, path string, length int64) error {
	return runFileOp(l, ctx, "truncate", func() error { return os.Truncate(path, length) })
}

type copyResult struct {
	n   int64
	err error
}

// Copy copies src to dst, preserving the source file's permission bits and
// every byte of its content.
func Copy(ctx context.Context, l *Loop, src, dst string) (int64, error) {
	res, cerr := runOnFilePool(l, ctx, func() copyResult {
		n, err := copyFile(src, dst)
		return copyResult{n, err}
	})
	if cerr != nil {
		return 0, cerr
	}
	if res.err != nil {
		return 0, newError("copy", CodeUnknown, res.err)
	}
	return res.n, nil
}

func copyFile(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := copyBytes(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Chmod(info.Mode().Perm())
}

func copyBytes(dst *os.File, src *os.File) (int64, error) {
	buf := make([]byte, 128*1024)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

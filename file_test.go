package asyncrt

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriteReadRoundTrip(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := OpenFile(ctx, l, path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)

	payload := []byte("hello file")
	n, err := f.WriteAt(ctx, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = f.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	require.NoError(t, f.Close(ctx))
}

func TestMkdirRecursiveAndRmdirRecursive(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, MkdirRecursive(ctx, l, nested, 0o755))
	info, err := Stat(ctx, l, nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, RmdirRecursive(ctx, l, filepath.Join(dir, "a")))
	_, err = Stat(ctx, l, nested)
	assert.Error(t, err)
}

func TestCopyPreservesBytesAndPermissions(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "out", "dst.txt")

	require.NoError(t, os.WriteFile(src, []byte("copy me"), 0o640))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := Copy(ctx, l, src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len("copy me")), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "copy me", string(got))

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Mode().Perm(), dstInfo.Mode().Perm())
}

func TestFileSeekFsyncTruncateChmodChown(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ops.txt")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := OpenFile(ctx, l, path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	defer f.Close(ctx)

	_, err = f.WriteAt(ctx, []byte("0123456789"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Fsync(ctx))

	off, err := f.Seek(5, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(5), off)

	require.NoError(t, f.Truncate(ctx, 5))
	info, err := Stat(ctx, l, path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	require.NoError(t, f.Chmod(ctx, 0o600))
	info, err = Stat(ctx, l, path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, f.Chown(ctx, os.Getuid(), os.Getgid()))
}

func TestLinkSymlinkReadlinkReaddir(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	original := filepath.Join(dir, "original.txt")
	require.NoError(t, os.WriteFile(original, []byte("linked"), 0o644))

	hardLink := filepath.Join(dir, "hardlink.txt")
	require.NoError(t, Link(ctx, l, original, hardLink))
	got, err := os.ReadFile(hardLink)
	require.NoError(t, err)
	assert.Equal(t, "linked", string(got))

	symPath := filepath.Join(dir, "sym.txt")
	require.NoError(t, Symlink(ctx, l, original, symPath))
	target, err := Readlink(ctx, l, symPath)
	require.NoError(t, err)
	assert.Equal(t, original, target)

	entries, err := Readdir(ctx, l, dir)
	require.NoError(t, err)
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["original.txt"])
	assert.True(t, names["hardlink.txt"])
	assert.True(t, names["sym.txt"])
}

func TestPathChmodChownUtimeTruncate(t *testing.T) {
	l := newTestLoop(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, Chmod(ctx, l, path, 0o600))
	info, err := Stat(ctx, l, path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, Chown(ctx, l, path, os.Getuid(), os.Getgid()))

	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, Utime(ctx, l, path, mtime, mtime))
	info, err = Stat(ctx, l, path)
	require.NoError(t, err)
	assert.WithinDuration(t, mtime, info.ModTime(), time.Second)

	require.NoError(t, Truncate(ctx, l, path, 4))
	info, err = Stat(ctx, l, path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
}

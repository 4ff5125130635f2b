package scanner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

func newTestScanner(opts Options) *Scanner {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewScanner(logger, opts)
}

func TestScanner_Scan(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"a.txt":     "x",
		"sub/b.txt": "yy",
	})
	root := snapshot.NewPathKey(tmpDir)

	s := newTestScanner(Options{Recursive: true})
	snap, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.True(t, snap.RootPresent())
	assert.Equal(t, root, snap.Root())
	assert.Equal(t, []snapshot.PathKey{
		snapshot.PathKey(filepath.Join(tmpDir, "a.txt")),
		snapshot.PathKey(filepath.Join(tmpDir, "sub", "b.txt")),
	}, snap.Keys())

	meta, ok := snap.Get(snapshot.PathKey(filepath.Join(tmpDir, "sub", "b.txt")))
	require.True(t, ok)
	assert.Equal(t, uint64(2), meta.Size)
	assert.False(t, meta.IsDirectory)
	assert.Zero(t, meta.Checksum)
}

func TestScanner_Scan_IncludeDirs(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"sub/b.txt": "yy"})

	s := newTestScanner(Options{Recursive: true, IncludeDirs: true})
	snap, err := s.Scan(context.Background(), snapshot.NewPathKey(tmpDir))
	require.NoError(t, err)

	meta, ok := snap.Get(snapshot.PathKey(filepath.Join(tmpDir, "sub")))
	require.True(t, ok)
	assert.True(t, meta.IsDirectory)
	assert.Zero(t, meta.Size)
	assert.Equal(t, 2, snap.Len())
}

func TestScanner_Scan_RootErrors(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	s := newTestScanner(Options{Recursive: true})

	t.Run("missing", func(t *testing.T) {
		_, err := s.Scan(context.Background(), snapshot.NewPathKey(filepath.Join(tmpDir, "missing")))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrPathNotFound)
	})

	t.Run("not a directory", func(t *testing.T) {
		_, err := s.Scan(context.Background(), snapshot.NewPathKey(file))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrNotADirectory)
	})
}

func TestScanner_Scan_UnreadableRoot(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}

	tmpDir := t.TempDir()
	locked := filepath.Join(tmpDir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	s := newTestScanner(Options{Recursive: true})
	_, err := s.Scan(context.Background(), snapshot.NewPathKey(locked))
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
}

func TestScanner_Scan_SkipsUnreadableSubdirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}

	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"ok.txt":         "x",
		"locked/hid.txt": "y",
	})
	locked := filepath.Join(tmpDir, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	s := newTestScanner(Options{Recursive: true})
	snap, err := s.Scan(context.Background(), snapshot.NewPathKey(tmpDir))
	require.NoError(t, err)
	assert.Equal(t, []snapshot.PathKey{snapshot.PathKey(filepath.Join(tmpDir, "ok.txt"))}, snap.Keys())
}

func TestScanner_Scan_Checksum(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	root := snapshot.NewPathKey(tmpDir)
	key := snapshot.PathKey(path)

	s := newTestScanner(Options{Recursive: true, Checksum: true})
	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	// Same size, same mtime, different content.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("xyz"), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	a, _ := first.Get(key)
	b, _ := second.Get(key)
	assert.NotZero(t, a.Checksum)
	assert.True(t, a.ModTime.Equal(b.ModTime))
	assert.True(t, a.Differs(b))
}

func TestScanner_ChecksumUnreadableFile(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o000))
	root := snapshot.NewPathKey(tmpDir)
	key := snapshot.PathKey(path)

	s := newTestScanner(Options{Recursive: true, Checksum: true})

	snap, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	scanned, ok := snap.Get(key)
	require.True(t, ok)
	assert.Zero(t, scanned.Checksum)

	// Stat agrees with the scan so both detection modes see the file.
	stat, err := s.Stat(root, key)
	require.NoError(t, err)
	assert.Zero(t, stat.Checksum)
	assert.Equal(t, uint64(3), stat.Size)
	assert.False(t, scanned.Differs(stat))
}

func TestScanner_Scan_UnchangedTreeIsStable(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"a": "1", "b/c": "2", "b/d/e": "3"})
	root := snapshot.NewPathKey(tmpDir)

	s := newTestScanner(Options{Recursive: true, IncludeDirs: true})
	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	d := NewDiffer(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	assert.Empty(t, d.Diff(first, second, time.Now()))
}

func TestScanner_Scan_Canceled(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"a.txt": "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScanner(Options{Recursive: true})
	_, err := s.Scan(ctx, snapshot.NewPathKey(tmpDir))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_Stat(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"a.txt": "hello", "skip.tmp": "x", "d/f": "1"})
	root := snapshot.NewPathKey(tmpDir)

	s := newTestScanner(Options{
		Recursive: true,
		Filter:    Filter{IgnorePatterns: []string{"*.tmp"}},
	})

	meta, err := s.Stat(root, snapshot.PathKey(filepath.Join(tmpDir, "a.txt")))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), meta.Size)
	assert.True(t, s.Tracks(meta))

	_, err = s.Stat(root, snapshot.PathKey(filepath.Join(tmpDir, "skip.tmp")))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = s.Stat(root, snapshot.PathKey(filepath.Join(tmpDir, "gone")))
	assert.ErrorIs(t, err, os.ErrNotExist)

	dir, err := s.Stat(root, snapshot.PathKey(filepath.Join(tmpDir, "d")))
	require.NoError(t, err)
	assert.True(t, dir.IsDirectory)
	assert.False(t, s.Tracks(dir))
}

func TestCheckRoot(t *testing.T) {
	tmpDir := t.TempDir()
	assert.NoError(t, CheckRoot(snapshot.NewPathKey(tmpDir)))
	assert.Equal(t, errors.CodePathNotFound, errors.CodeOf(CheckRoot(snapshot.NewPathKey(filepath.Join(tmpDir, "x")))))
}

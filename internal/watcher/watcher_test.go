package watcher

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

const eventTimeout = 3 * time.Second

// recorder collects callbacks on buffered channels.
type recorder struct {
	records chan snapshot.ChangeRecord
	errs    chan error
}

func newRecorder() *recorder {
	return &recorder{
		records: make(chan snapshot.ChangeRecord, 256),
		errs:    make(chan error, 64),
	}
}

func (r *recorder) onChange(rec snapshot.ChangeRecord) error {
	r.records <- rec
	return nil
}

func (r *recorder) onError(err error) {
	select {
	case r.errs <- err:
	default:
	}
}

// expect waits for kind on path. Extra Modified records for the same path
// are tolerated, since a scan may observe a write in two steps.
func (r *recorder) expect(t *testing.T, kind snapshot.ChangeKind, path string) {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case rec := <-r.records:
			if rec.Path.String() == path && rec.Kind == kind {
				return
			}
			if rec.Path.String() == path && rec.Kind == snapshot.Modified {
				continue
			}
			t.Fatalf("unexpected record %q while waiting for %s %s", rec, kind, path)
		case <-deadline:
			t.Fatalf("timeout waiting for %s %s", kind, path)
		}
	}
}

// waitFor waits for kind on path, ignoring every other record.
func (r *recorder) waitFor(t *testing.T, kind snapshot.ChangeKind, path string) {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case rec := <-r.records:
			if rec.Path.String() == path && rec.Kind == kind {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s %s", kind, path)
		}
	}
}

func (r *recorder) drain() {
	for {
		select {
		case <-r.records:
		default:
			return
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func pollOptions(root string) Options {
	opts := DefaultOptions(root)
	opts.PollInterval = 50 * time.Millisecond
	return opts
}

func startWatcher(t *testing.T, opts Options, rec *recorder) *Watcher {
	t.Helper()
	w, err := New(testLogger(), opts, rec.onChange, rec.onError)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestNew_Validation(t *testing.T) {
	noop := func(snapshot.ChangeRecord) error { return nil }

	tests := []struct {
		name     string
		opts     Options
		onChange ChangeFunc
	}{
		{"missing root", Options{}, noop},
		{"missing callback", DefaultOptions(t.TempDir()), nil},
		{"bad pattern", Options{Root: "/tmp", IgnorePatterns: []string{"[x"}}, noop},
		{"bad backend", Options{Root: "/tmp", Backend: "kqueue"}, noop},
		{"bad mode", Options{Root: "/tmp", Mode: Mode(7)}, noop},
		{"negative interval", Options{Root: "/tmp", PollInterval: -time.Second}, noop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(testLogger(), tt.opts, tt.onChange, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrValidation)
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions("/data")
	assert.Equal(t, "/data", opts.Root)
	assert.True(t, opts.Recursive)
	assert.Equal(t, ModePoll, opts.Mode)
	assert.Equal(t, time.Second, opts.PollInterval)
	assert.Equal(t, 250*time.Millisecond, opts.NativeWaitTimeout)
}

func TestParseMode(t *testing.T) {
	for _, mode := range []Mode{ModePoll, ModeNative} {
		parsed, err := ParseMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}

	_, err := ParseMode("inotify")
	assert.Error(t, err)
}

func TestWatcher_PollScenario(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, pollOptions(root), rec)
	assert.Equal(t, StateRunning, w.State())

	a := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	rec.expect(t, snapshot.Created, a)

	f, err := os.OpenFile(a, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("more")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	rec.expect(t, snapshot.Modified, a)

	require.NoError(t, os.Remove(a))
	rec.expect(t, snapshot.Deleted, a)

	require.NoError(t, w.Stop())
	assert.Equal(t, StateIdle, w.State())
	rec.drain()

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("y"), 0o644))
	time.Sleep(200 * time.Millisecond)

	select {
	case r := <-rec.records:
		t.Fatalf("callback fired after Stop: %s", r)
	default:
	}
}

func TestWatcher_UnchangedTreeIsQuiet(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d", "e"), 0o755))

	rec := newRecorder()
	opts := pollOptions(root)
	opts.IncludeDirs = true
	w := startWatcher(t, opts, rec)

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.records)
	assert.Positive(t, w.Stats().Cycles)
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	rec := newRecorder()
	w, err := New(testLogger(), pollOptions(root), rec.onChange, rec.onError)
	require.NoError(t, err)

	err = w.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPathNotFound)

	assert.Equal(t, StateIdle, w.State())
	assert.Nil(t, w.done, "no watch goroutine should exist")
	assert.Nil(t, w.Baseline())
	assert.NoError(t, w.Stop())
}

func TestWatcher_StartOnFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	rec := newRecorder()
	w, err := New(testLogger(), pollOptions(file), rec.onChange, nil)
	require.NoError(t, err)

	err = w.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotADirectory)
	assert.Equal(t, StateIdle, w.State())
}

func TestWatcher_AlreadyRunning(t *testing.T) {
	rec := newRecorder()
	w := startWatcher(t, pollOptions(t.TempDir()), rec)

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyRunning)
	assert.Equal(t, StateRunning, w.State())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	rec := newRecorder()
	w := startWatcher(t, pollOptions(t.TempDir()), rec)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Stop())
		}()
	}
	wg.Wait()

	assert.NoError(t, w.Stop())
	assert.Equal(t, StateIdle, w.State())
}

func TestWatcher_Restart(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, pollOptions(root), rec)
	require.NoError(t, w.Stop())

	a := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))

	// The new baseline already contains a.txt, so it is not reported.
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.Baseline().Has(snapshot.PathKey(a)))

	b := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(b, []byte("y"), 0o644))
	rec.expect(t, snapshot.Created, b)
}

func TestWatcher_Rescan(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()

	w, err := New(testLogger(), DefaultOptions(root), rec.onChange, rec.onError)
	require.NoError(t, err)
	assert.ErrorIs(t, w.Rescan(), errors.ErrNotRunning)

	opts := DefaultOptions(root)
	opts.PollInterval = time.Hour
	w = startWatcher(t, opts, rec)

	a := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	require.NoError(t, w.Rescan())
	rec.expect(t, snapshot.Created, a)
}

func TestWatcher_CallbackFailuresAreContained(t *testing.T) {
	root := t.TempDir()
	boom := stderrors.New("boom")
	seen := make(chan string, 64)
	errs := make(chan error, 64)

	onChange := func(rec snapshot.ChangeRecord) error {
		seen <- filepath.Base(rec.Path.String())
		switch filepath.Base(rec.Path.String()) {
		case "fail.txt":
			return boom
		case "panic.txt":
			panic("callback exploded")
		}
		return nil
	}
	onError := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	w, err := New(testLogger(), pollOptions(root), onChange, onError)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop() //nolint:errcheck // Test cleanup

	require.NoError(t, os.WriteFile(filepath.Join(root, "fail.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "panic.txt"), []byte("x"), 0o644))

	var sawError, sawPanic bool
	deadline := time.After(eventTimeout)
	for !sawError || !sawPanic {
		select {
		case err := <-errs:
			require.ErrorIs(t, err, errors.ErrCallbackFailed)
			if stderrors.Is(err, boom) {
				sawError = true
			} else {
				sawPanic = true
			}
		case <-deadline:
			t.Fatal("timeout waiting for callback failures")
		}
	}

	// Delivery continues after failures.
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), []byte("x"), 0o644))
	deadline = time.After(eventTimeout)
	for {
		select {
		case name := <-seen:
			if name == "ok.txt" {
				assert.Equal(t, StateRunning, w.State())
				assert.GreaterOrEqual(t, w.Stats().CallbackFailures, uint64(2))
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for delivery after failures")
		}
	}
}

func TestWatcher_RootDeletedAndRecreated(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watched")
	require.NoError(t, os.Mkdir(root, 0o755))
	a := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))

	rec := newRecorder()
	w := startWatcher(t, pollOptions(root), rec)

	require.NoError(t, os.RemoveAll(root))
	rec.expect(t, snapshot.Deleted, a)
	rec.expect(t, snapshot.Deleted, root)
	assert.Equal(t, StateRunning, w.State())
	assert.False(t, w.Baseline().RootPresent())

	require.NoError(t, os.Mkdir(root, 0o755))
	rec.expect(t, snapshot.Created, root)
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o644))
	rec.expect(t, snapshot.Created, a)
}

func TestWatcher_IndependentWatches(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	recA, recB := newRecorder(), newRecorder()
	startWatcher(t, pollOptions(rootA), recA)
	startWatcher(t, pollOptions(rootB), recB)

	fileA := filepath.Join(rootA, "only-a.txt")
	require.NoError(t, os.WriteFile(fileA, []byte("x"), 0o644))
	recA.expect(t, snapshot.Created, fileA)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, recB.records)
}

func TestWatcher_Stats(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	rec := newRecorder()
	w, err := New(testLogger(), pollOptions(root), rec.onChange, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID())
	assert.Zero(t, w.Stats().Entries)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop() //nolint:errcheck // Test cleanup

	b := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(b, []byte("y"), 0o644))
	rec.expect(t, snapshot.Created, b)

	stats := w.Stats()
	assert.Equal(t, ModePoll, stats.Mode)
	assert.Empty(t, stats.Backend)
	assert.Equal(t, 2, stats.Entries)
	assert.False(t, stats.LastCycle.IsZero())
	assert.Eventually(t, func() bool {
		return w.Stats().Records >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestOptions_LiteralIsNotRecursive(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "sub", "n.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0o755))

	rec := newRecorder()
	startWatcher(t, Options{Root: root, PollInterval: 50 * time.Millisecond}, rec)

	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))
	top := filepath.Join(root, "top.txt")
	require.NoError(t, os.WriteFile(top, []byte("x"), 0o644))
	rec.expect(t, snapshot.Created, top)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, rec.records)
}

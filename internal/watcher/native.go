package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/scanner"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// nativeSource turns native notifications into snapshots. Each batch of
// notifications patches a copy of the baseline: only the paths mentioned are
// re-examined, so the diff against the baseline stays cheap.
type nativeSource struct {
	logger    *slog.Logger
	backend   Backend
	scanner   *scanner.Scanner
	rescan    <-chan struct{}
	watched   map[snapshot.PathKey]struct{}
	addErr    error
	root      snapshot.PathKey
	timeout   time.Duration
	recursive bool
	rootGone  bool
	failed    bool
}

func newNativeSource(logger *slog.Logger, backend Backend, s *scanner.Scanner, root snapshot.PathKey, timeout time.Duration, rescan <-chan struct{}) *nativeSource {
	return &nativeSource{
		logger:    logger,
		backend:   backend,
		scanner:   s,
		rescan:    rescan,
		watched:   make(map[snapshot.PathKey]struct{}),
		root:      root,
		timeout:   timeout,
		recursive: s.Options().Recursive,
	}
}

func (n *nativeSource) next(ctx context.Context, baseline *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		select {
		case <-n.rescan:
			return n.resync(ctx)
		default:
		}

		if n.rootGone || n.failed {
			if !sleep(ctx, n.timeout, n.rescan) {
				return nil, ctx.Err()
			}
			if n.rootGone && scanner.CheckRoot(n.root) != nil {
				continue
			}
			n.failed = false
			return n.resync(ctx)
		}

		notes, err := n.backend.Wait(ctx, n.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			n.failed = true
			return nil, errors.Wrapf(err, errors.CodeScanFailed, "wait for %s notifications", n.backend.Name())
		}
		if len(notes) == 0 {
			continue
		}

		return n.apply(ctx, baseline, notes)
	}
}

// resync rebuilds the snapshot from a full walk and reconciles the set of
// watched directories with what the walk found.
func (n *nativeSource) resync(ctx context.Context) (*snapshot.Snapshot, error) {
	if err := scanner.CheckRoot(n.root); err != nil {
		if rootMissing(err) {
			return n.lost(), nil
		}
		return nil, err
	}

	n.addErr = nil
	n.watch(n.root)

	dirs := map[snapshot.PathKey]struct{}{n.root: {}}
	b := snapshot.NewBuilder(n.root)
	err := n.scanner.Walk(ctx, n.root, n.recursive, func(key snapshot.PathKey, meta snapshot.EntryMetadata) {
		if meta.IsDirectory && n.recursive {
			dirs[key] = struct{}{}
			n.watch(key)
		}
		if n.scanner.Tracks(meta) {
			b.Put(key, meta)
		}
	})
	if err != nil {
		if rootMissing(err) {
			return n.lost(), nil
		}
		return nil, err
	}

	for dir := range n.watched {
		if _, ok := dirs[dir]; !ok {
			n.unwatch(dir)
		}
	}

	if n.rootGone {
		n.logger.Info("watch root reappeared", "root", n.root)
		n.rootGone = false
	}
	return b.Build(time.Now()), nil
}

// apply patches baseline with the current state of every notified path.
func (n *nativeSource) apply(ctx context.Context, baseline *snapshot.Snapshot, notes []Notification) (*snapshot.Snapshot, error) {
	b := snapshot.Derive(baseline)
	ops := make(map[snapshot.PathKey]Op, len(notes))
	keys := make([]snapshot.PathKey, 0, len(notes))

	for _, note := range notes {
		if note.Op == OpOverflow {
			n.logger.Warn("native notifications overflowed, resyncing", "root", n.root)
			return n.resync(ctx)
		}

		key := snapshot.PathKey(filepath.Clean(note.Path))
		if _, dup := ops[key]; !dup {
			keys = append(keys, key)
		}
		ops[key] |= note.Op
	}

	for _, key := range keys {
		if key == n.root {
			if err := scanner.CheckRoot(n.root); err != nil && rootMissing(err) {
				return n.lost(), nil
			}
			continue
		}
		if !key.Within(n.root) {
			continue
		}
		if !n.recursive && filepath.Dir(key.String()) != n.root.String() {
			continue
		}

		n.refresh(ctx, b, key, ops[key])
	}

	return b.Build(time.Now()), nil
}

// refresh re-examines one path and records its current state in b. ops is
// every operation reported for key in the batch.
func (n *nativeSource) refresh(ctx context.Context, b *snapshot.Builder, key snapshot.PathKey, ops Op) {
	meta, err := n.scanner.Stat(n.root, key)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		b.Delete(key)
		b.DeleteUnder(key)
		n.unwatchUnder(key)
	case err != nil:
		n.logger.Warn("failed to stat changed entry", "path", key, "error", err)
	case meta.IsDirectory:
		if n.scanner.Tracks(meta) {
			b.Put(key, meta)
		} else {
			b.Delete(key)
		}
		if !n.recursive {
			return
		}
		_, ok := n.watched[key]
		if ok && ops&(OpCreate|OpRemove) != 0 {
			// Removed and recreated under the same name: the kernel watch
			// went with the old directory, and so did its contents.
			b.DeleteUnder(key)
			n.unwatchUnder(key)
			ok = false
		}
		if !ok {
			n.adopt(ctx, b, key)
		}
	default:
		if _, wasDir := n.watched[key]; wasDir {
			b.DeleteUnder(key)
			n.unwatchUnder(key)
		}
		b.Put(key, meta)
	}
}

// adopt starts watching a directory that appeared under the root and records
// everything already inside it, since those entries may predate the watch.
func (n *nativeSource) adopt(ctx context.Context, b *snapshot.Builder, dir snapshot.PathKey) {
	n.watch(dir)
	err := n.scanner.Walk(ctx, dir, true, func(key snapshot.PathKey, meta snapshot.EntryMetadata) {
		if meta.IsDirectory {
			n.watch(key)
		}
		if n.scanner.Tracks(meta) {
			b.Put(key, meta)
		}
	})
	if err != nil && ctx.Err() == nil {
		n.logger.Warn("failed to scan new directory", "path", dir, "error", err)
	}
}

// lost switches to root-missing mode.
func (n *nativeSource) lost() *snapshot.Snapshot {
	if !n.rootGone {
		n.logger.Info("watch root removed", "root", n.root)
	}
	n.rootGone = true
	for dir := range n.watched {
		n.unwatch(dir)
	}
	return snapshot.Missing(n.root, time.Now())
}

func (n *nativeSource) watch(dir snapshot.PathKey) {
	if _, ok := n.watched[dir]; ok {
		return
	}
	if err := n.backend.Add(dir.String()); err != nil {
		n.logger.Warn("failed to add watch", "path", dir, "error", err)
		if n.addErr == nil {
			n.addErr = err
		}
		return
	}
	n.watched[dir] = struct{}{}
}

func (n *nativeSource) unwatch(dir snapshot.PathKey) {
	if err := n.backend.Remove(dir.String()); err != nil {
		n.logger.Debug("failed to remove watch", "path", dir, "error", err)
	}
	delete(n.watched, dir)
}

func (n *nativeSource) unwatchUnder(dir snapshot.PathKey) {
	for key := range n.watched {
		if key == dir || key.Within(dir) {
			n.unwatch(key)
		}
	}
}

func (n *nativeSource) mode() Mode {
	return ModeNative
}

func (n *nativeSource) backendName() string {
	return n.backend.Name()
}

func (n *nativeSource) close() error {
	return n.backend.Close()
}

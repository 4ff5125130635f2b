package watcher

import (
	"context"
	"time"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// changeSource produces successive snapshots of the watched tree.
// The watch loop diffs each one against the previous baseline.
type changeSource interface {
	// next blocks until a new snapshot is due and returns it.
	// It returns ctx.Err() once ctx is done.
	next(ctx context.Context, baseline *snapshot.Snapshot) (*snapshot.Snapshot, error)
	// mode is the detection strategy actually in use.
	mode() Mode
	// backendName names the native backend, empty for polling.
	backendName() string
	close() error
}

// rootMissing reports whether err means the root is no longer a directory.
// Such scans produce a root-absent snapshot rather than an error.
func rootMissing(err error) bool {
	return errors.Is(err, errors.ErrPathNotFound) || errors.Is(err, errors.ErrNotADirectory)
}

// sleep waits for d, ctx or a rescan request. It reports false when ctx is done.
func sleep(ctx context.Context, d time.Duration, rescan <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-rescan:
	}
	return true
}

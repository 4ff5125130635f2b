package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

var errBackendClosed = errors.New("backend closed")

// Backend is the platform-specific source of native notifications.
// Backends watch single directories; recursion is handled by the caller.
type Backend interface {
	// Name identifies the implementation.
	Name() string

	// Add starts watching dir. Adding a watched directory is a no-op.
	Add(dir string) error

	// Remove stops watching dir. Removing an unknown directory is a no-op.
	Remove(dir string) error

	// Wait blocks until notifications arrive, timeout elapses or ctx is done.
	// It returns an empty batch on timeout.
	Wait(ctx context.Context, timeout time.Duration) ([]Notification, error)

	// Close releases all resources.
	Close() error
}

// openBackend is replaced in tests to simulate backend failures.
var openBackend = newBackend

// newBackend creates the named backend, choosing the best one for the
// current platform when name is empty.
func newBackend(logger *slog.Logger, name string) (Backend, error) {
	if name == BackendAuto {
		name = BackendFsnotify
		if runtime.GOOS == "linux" {
			name = BackendInotify
		}
	}

	var (
		backend Backend
		err     error
	)
	switch name {
	case BackendInotify:
		backend, err = newInotifyBackend(logger)
	case BackendFsnotify:
		backend, err = newFsnotifyBackend(logger)
	default:
		err = fmt.Errorf("unknown backend %q", name)
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}

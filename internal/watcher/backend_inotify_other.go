//go:build !linux

package watcher

import (
	"fmt"
	"log/slog"
	"runtime"
)

// newInotifyBackend fails outside Linux; callers fall back to fsnotify or polling.
func newInotifyBackend(_ *slog.Logger) (Backend, error) {
	return nil, fmt.Errorf("inotify backend not available on %s", runtime.GOOS)
}

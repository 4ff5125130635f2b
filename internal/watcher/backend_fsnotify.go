package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyBackend implements Backend on top of fsnotify, which works on every
// platform dirwatch builds for.
type fsnotifyBackend struct {
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// newFsnotifyBackend creates an fsnotify backend.
func newFsnotifyBackend(logger *slog.Logger) (*fsnotifyBackend, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &fsnotifyBackend{
		logger:  logger,
		watcher: watcher,
	}, nil
}

// Name implements Backend.
func (b *fsnotifyBackend) Name() string {
	return BackendFsnotify
}

// Add implements Backend.
func (b *fsnotifyBackend) Add(dir string) error {
	if err := b.watcher.Add(filepath.Clean(dir)); err != nil {
		if errors.Is(err, fsnotify.ErrClosed) {
			return errBackendClosed
		}
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	b.logger.Debug("added watch", "path", dir)
	return nil
}

// Remove implements Backend.
func (b *fsnotifyBackend) Remove(dir string) error {
	err := b.watcher.Remove(filepath.Clean(dir))
	if err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) && !errors.Is(err, fsnotify.ErrClosed) {
		return fmt.Errorf("unwatch %s: %w", dir, err)
	}
	return nil
}

// Wait returns the first notification plus whatever else is already queued.
func (b *fsnotifyBackend) Wait(ctx context.Context, timeout time.Duration) ([]Notification, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var notes []Notification
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case event, ok := <-b.watcher.Events:
		if !ok {
			return nil, errBackendClosed
		}
		notes = append(notes, fsnotifyNotification(event))
	case err, ok := <-b.watcher.Errors:
		if !ok {
			return nil, errBackendClosed
		}
		if !errors.Is(err, fsnotify.ErrEventOverflow) {
			return nil, err
		}
		b.logger.Warn("fsnotify queue overflow")
		notes = append(notes, Notification{Op: OpOverflow})
	}

	for {
		select {
		case event, ok := <-b.watcher.Events:
			if !ok {
				return notes, nil
			}
			notes = append(notes, fsnotifyNotification(event))
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return notes, nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				notes = append(notes, Notification{Op: OpOverflow})
				continue
			}
			b.logger.Warn("fsnotify error", "error", err)
		default:
			return notes, nil
		}
	}
}

func fsnotifyNotification(event fsnotify.Event) Notification {
	op := OpWrite
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		op = OpRemove
	case event.Has(fsnotify.Create):
		op = OpCreate
	}
	return Notification{Path: filepath.Clean(event.Name), Op: op}
}

// Close implements Backend.
func (b *fsnotifyBackend) Close() error {
	return b.watcher.Close()
}

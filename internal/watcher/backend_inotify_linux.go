//go:build linux

package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// inotifyMask covers every change that can alter a snapshot entry.
const inotifyMask = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_CLOSE_WRITE |
	unix.IN_DELETE | unix.IN_MOVED_FROM | unix.IN_MOVED_TO |
	unix.IN_DELETE_SELF | unix.IN_MOVE_SELF | unix.IN_ONLYDIR

// inotifyBackend implements Backend using Linux inotify directly.
type inotifyBackend struct {
	logger  *slog.Logger
	watches map[string]int
	wdPaths map[int]string
	buf     []byte
	fd      int
	mu      sync.Mutex
	closed  bool
}

// newInotifyBackend creates a new Linux inotify backend.
func newInotifyBackend(logger *slog.Logger) (*inotifyBackend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inotify: %w", err)
	}

	return &inotifyBackend{
		logger:  logger,
		fd:      fd,
		watches: make(map[string]int),
		wdPaths: make(map[int]string),
		buf:     make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1)),
	}, nil
}

// Name implements Backend.
func (b *inotifyBackend) Name() string {
	return BackendInotify
}

// Add adds an inotify watch for dir.
func (b *inotifyBackend) Add(dir string) error {
	dir = filepath.Clean(dir)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBackendClosed
	}
	if _, exists := b.watches[dir]; exists {
		return nil
	}

	wd, err := unix.InotifyAddWatch(b.fd, dir, inotifyMask)
	if err != nil {
		return fmt.Errorf("inotify_add_watch %s: %w", dir, err)
	}

	// The kernel hands back the existing descriptor when the same inode is
	// added under a second name.
	if old, ok := b.wdPaths[wd]; ok {
		delete(b.watches, old)
	}
	b.watches[dir] = wd
	b.wdPaths[wd] = dir
	b.logger.Debug("added watch", "path", dir, "wd", wd)

	return nil
}

// Remove removes the inotify watch for dir.
func (b *inotifyBackend) Remove(dir string) error {
	dir = filepath.Clean(dir)

	b.mu.Lock()
	defer b.mu.Unlock()

	wd, exists := b.watches[dir]
	if !exists || b.closed {
		return nil
	}

	// The directory may already be gone, in which case the kernel has
	// dropped the watch on its own.
	//nolint:gosec // G115: wd is always a small non-negative int from inotify
	_, _ = unix.InotifyRmWatch(b.fd, uint32(wd))

	delete(b.watches, dir)
	delete(b.wdPaths, wd)
	b.logger.Debug("removed watch", "path", dir, "wd", wd)

	return nil
}

// Wait blocks in poll(2) until the inotify descriptor is readable.
func (b *inotifyBackend) Wait(ctx context.Context, timeout time.Duration) ([]Notification, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, errBackendClosed
		}
		fd := b.fd
		b.mu.Unlock()

		//nolint:gosec // G115: fd is a small non-negative descriptor
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		ready, err := unix.Poll(fds, max(1, int(remaining.Milliseconds())))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("poll inotify: %w", err)
		}
		if ready == 0 {
			return nil, nil
		}

		n, err := unix.Read(fd, b.buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return nil, fmt.Errorf("failed to read inotify events: %w", err)
		}
		if n < unix.SizeofInotifyEvent {
			continue
		}

		if notes := b.parseEvents(b.buf[:n]); len(notes) > 0 {
			return notes, nil
		}
	}
}

// parseEvents parses raw inotify events.
func (b *inotifyBackend) parseEvents(buf []byte) []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	var notes []Notification
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		//nolint:gosec // G103: Legitimate use of unsafe for syscall interface with inotify
		event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameStart := offset + unix.SizeofInotifyEvent
		offset = nameStart + int(event.Len)

		if event.Mask&unix.IN_Q_OVERFLOW != 0 {
			b.logger.Warn("inotify queue overflow")
			notes = append(notes, Notification{Op: OpOverflow})
			continue
		}

		wd := int(event.Wd)
		dir, ok := b.wdPaths[wd]
		if !ok {
			continue
		}

		if event.Mask&unix.IN_IGNORED != 0 {
			// dir may already be watched again under a new descriptor.
			if b.watches[dir] == wd {
				delete(b.watches, dir)
			}
			delete(b.wdPaths, wd)
			continue
		}

		path := dir
		if event.Len > 0 && offset <= len(buf) {
			name := buf[nameStart:offset]
			path = filepath.Join(dir, string(name[:clen(name)]))
		}

		notes = append(notes, Notification{Path: path, Op: inotifyOp(event.Mask)})
	}

	return notes
}

func inotifyOp(mask uint32) Op {
	switch {
	case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF|unix.IN_MOVED_FROM|unix.IN_MOVE_SELF) != 0:
		return OpRemove
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		return OpCreate
	default:
		return OpWrite
	}
}

// Close closes the inotify descriptor. Closing twice is a no-op.
func (b *inotifyBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	clear(b.watches)
	clear(b.wdPaths)

	return unix.Close(b.fd)
}

// clen returns the length of a null-terminated byte slice.
func clen(n []byte) int {
	for i := 0; i < len(n); i++ {
		if n[i] == 0 {
			return i
		}
	}
	return len(n)
}

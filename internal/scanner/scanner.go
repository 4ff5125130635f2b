// Package scanner produces snapshots of a directory tree and computes the
// change records between two of them.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/ratelimit"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// Options configures what a scan records.
type Options struct {
	Filter
	// Recursive descends into subdirectories. When false only the root's
	// immediate children are recorded.
	Recursive bool
	// IncludeDirs records directories as entries of their own.
	IncludeDirs bool
	// Checksum hashes file contents so that rewrites preserving size and
	// modification time are still detected. It reads every file on every scan.
	Checksum bool
}

// Scanner produces snapshots of a directory tree.
type Scanner struct {
	logger   *slog.Logger
	walker   *Walker
	warnings *ratelimit.KeyedRateLimiter
	opts     Options
}

// NewScanner creates a scanner with the given options.
func NewScanner(logger *slog.Logger, opts Options) *Scanner {
	return &Scanner{
		logger:   logger,
		walker:   NewWalker(logger),
		warnings: ratelimit.Every(time.Minute, 5),
		opts:     opts,
	}
}

// Options returns the scanner's configuration.
func (s *Scanner) Options() Options {
	return s.opts
}

// Scan walks root and returns a snapshot of everything under it.
//
// A missing root fails with PATH_NOT_FOUND, a root that is a file fails with
// NOT_A_DIRECTORY and an unlistable root fails with PERMISSION_DENIED.
// Entries below the root that cannot be read are logged and left out.
func (s *Scanner) Scan(ctx context.Context, root snapshot.PathKey) (*snapshot.Snapshot, error) {
	if err := CheckRoot(root); err != nil {
		return nil, err
	}

	b := snapshot.NewBuilder(root)
	err := s.Walk(ctx, root, false, func(key snapshot.PathKey, meta snapshot.EntryMetadata) {
		b.Put(key, meta)
	})
	if err != nil {
		return nil, err
	}

	return b.Build(time.Now()), nil
}

// Walk visits every entry below dir that a scan would record, honoring the
// filter and recursion settings. With allDirs set, directories are visited
// even when IncludeDirs is off; native watchers need them to place watches.
func (s *Scanner) Walk(ctx context.Context, dir snapshot.PathKey, allDirs bool, visit func(snapshot.PathKey, snapshot.EntryMetadata)) error {
	opts := WalkOptions{
		Filter:      s.opts.Filter,
		Recursive:   s.opts.Recursive,
		IncludeDirs: s.opts.IncludeDirs || allDirs,
	}

	var rootErr error
	for result := range s.walker.Walk(ctx, dir.String(), opts) {
		if result.Error != nil {
			if result.Path == dir.String() {
				rootErr = classify(result.Error, result.Path)
				continue
			}
			s.warnEntry(result.Path, result.Error)
			continue
		}

		meta := snapshot.EntryMetadata{
			ModTime:     result.ModTime,
			Size:        uint64(result.Size),
			Inode:       result.Inode,
			IsDirectory: result.IsDir,
		}
		if s.opts.Checksum && !result.IsDir {
			sum, err := checksumFile(result.Path)
			if err != nil {
				s.warnEntry(result.Path, err)
			}
			meta.Checksum = sum
		}

		visit(snapshot.PathKey(filepath.Clean(result.Path)), meta)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return rootErr
}

// Stat observes a single path. Entries that a scan would not record (symlinks,
// devices, ignored paths) report fs.ErrNotExist so callers treat them as absent.
// Directories are always reported; use Tracks to decide whether to record them.
func (s *Scanner) Stat(root, path snapshot.PathKey) (snapshot.EntryMetadata, error) {
	if s.opts.ShouldIgnore(root.String(), path.String()) {
		return snapshot.EntryMetadata{}, fs.ErrNotExist
	}

	info, err := os.Lstat(path.String())
	if err != nil {
		return snapshot.EntryMetadata{}, err
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return snapshot.EntryMetadata{}, fs.ErrNotExist
	}

	meta := snapshot.EntryMetadata{
		ModTime:     info.ModTime(),
		Inode:       inodeOf(info.Sys()),
		IsDirectory: info.IsDir(),
	}
	if !meta.IsDirectory {
		meta.Size = uint64(info.Size())
		if s.opts.Checksum {
			sum, err := checksumFile(path.String())
			if errors.Is(err, fs.ErrNotExist) {
				return snapshot.EntryMetadata{}, err
			}
			if err != nil {
				// Same as a scan: record the entry without a fingerprint.
				s.warnEntry(path.String(), err)
			}
			meta.Checksum = sum
		}
	}
	return meta, nil
}

// Tracks reports whether meta belongs in a snapshot.
func (s *Scanner) Tracks(meta snapshot.EntryMetadata) bool {
	return !meta.IsDirectory || s.opts.IncludeDirs
}

// Ignored reports whether path is excluded by the filter.
func (s *Scanner) Ignored(root, path snapshot.PathKey) bool {
	return s.opts.ShouldIgnore(root.String(), path.String())
}

// WarningsSuppressed returns how many per-entry warnings were throttled.
func (s *Scanner) WarningsSuppressed() uint64 {
	return s.warnings.Suppressed()
}

func (s *Scanner) warnEntry(path string, err error) {
	code := errors.CodeOf(classify(err, path))
	allowed, skipped := s.warnings.AllowN(string(code))
	if !allowed {
		return
	}
	s.logger.Warn("skipping unreadable entry",
		"path", path,
		"code", code,
		"error", err,
		"suppressed", skipped,
	)
}

// CheckRoot verifies that root exists, is a directory and can be listed.
func CheckRoot(root snapshot.PathKey) error {
	info, err := os.Stat(root.String())
	if err != nil {
		return classify(err, root.String())
	}
	if !info.IsDir() {
		return errors.NotADirectoryf("%s is not a directory", root)
	}
	return nil
}

func classify(err error, path string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errors.PathNotFoundf("%s does not exist", path).WithCause(err)
	case errors.Is(err, fs.ErrPermission):
		return errors.PermissionDeniedf("cannot read %s", path).WithCause(err)
	default:
		return errors.Wrapf(err, errors.CodeScanFailed, "scan %s", path)
	}
}

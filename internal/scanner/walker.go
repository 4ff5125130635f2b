package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"
)

// Walker traverses a directory tree and streams the entries it discovers.
type Walker struct {
	logger *slog.Logger
}

// NewWalker creates a new walker.
func NewWalker(logger *slog.Logger) *Walker {
	return &Walker{
		logger: logger,
	}
}

// WalkOptions controls which entries a walk reports.
type WalkOptions struct {
	Filter
	Recursive   bool
	IncludeDirs bool
}

// WalkResult represents an entry discovered during walking, or an error
// reading one. An error whose Path equals the walk root means the root
// itself could not be listed.
type WalkResult struct {
	ModTime time.Time
	Error   error
	Path    string
	RelPath string
	Size    int64
	Inode   uint64
	IsDir   bool
}

// Walk traverses rootPath and streams discovered entries.
// The root itself is never reported. Only regular files and, when
// IncludeDirs is set, directories are sent.
// The channel closes when the walk completes or ctx is canceled.
func (w *Walker) Walk(ctx context.Context, rootPath string, opts WalkOptions) <-chan WalkResult {
	results := make(chan WalkResult, 100)

	go func() {
		defer close(results)

		send := func(r WalkResult) error {
			select {
			case results <- r:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if err != nil {
				// Entries removed between listing and visiting are not errors.
				if errors.Is(err, fs.ErrNotExist) && path != rootPath {
					return nil
				}
				if sendErr := send(WalkResult{Path: path, Error: err}); sendErr != nil {
					return sendErr
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if path == rootPath {
				return nil
			}

			if opts.ShouldIgnore(rootPath, path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if !d.IsDir() && !d.Type().IsRegular() {
				return nil
			}

			if d.IsDir() && !opts.IncludeDirs {
				if !opts.Recursive {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return send(WalkResult{Path: path, Error: err})
			}

			relPath, err := filepath.Rel(rootPath, path)
			if err != nil {
				relPath = path
			}

			result := WalkResult{
				Path:    path,
				RelPath: relPath,
				IsDir:   d.IsDir(),
				ModTime: info.ModTime(),
				Inode:   inodeOf(info.Sys()),
			}
			if !result.IsDir {
				result.Size = info.Size()
			}

			if err := send(result); err != nil {
				return err
			}

			if d.IsDir() && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		})

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error("walk failed", "root", rootPath, "error", err)
		}
	}()

	return results
}

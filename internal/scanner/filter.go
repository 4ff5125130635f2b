package scanner

import (
	"path/filepath"
	"strings"
)

// Filter decides which entries below a root are excluded from snapshots.
// The same rules apply to full scans and to native event translation.
type Filter struct {
	// IgnorePatterns are filepath.Match globs tested against each path component
	// below the root, so an ignored directory hides everything inside it.
	IgnorePatterns []string
	// IgnoreHidden skips entries whose path relative to the root has a dot-prefixed component.
	IgnoreHidden bool
}

// Validate reports the first malformed glob, if any.
func (f Filter) Validate() error {
	for _, pattern := range f.IgnorePatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return err
		}
	}
	return nil
}

// ShouldIgnore checks if path, located under root, matches the ignore rules.
// The root itself is never ignored, even when it lives inside a hidden directory.
func (f Filter) ShouldIgnore(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}

	for part := range strings.SplitSeq(rel, string(filepath.Separator)) {
		if part == "." || part == ".." {
			continue
		}
		if f.IgnoreHidden && strings.HasPrefix(part, ".") {
			return true
		}
		for _, pattern := range f.IgnorePatterns {
			if matched, err := filepath.Match(pattern, part); err == nil && matched {
				return true
			}
		}
	}

	return false
}

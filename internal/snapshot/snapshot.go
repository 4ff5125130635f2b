// Package snapshot models the point-in-time state of a watched directory tree
// and the typed change records derived from comparing two such states.
package snapshot

import (
	"iter"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// PathKey identifies a filesystem entry by its cleaned absolute path.
// Case sensitivity follows the underlying filesystem.
type PathKey string

// NewPathKey returns the canonical key for path.
func NewPathKey(path string) PathKey {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return PathKey(filepath.Clean(path))
}

// String returns the path.
func (k PathKey) String() string {
	return string(k)
}

// Within reports whether k is strictly below dir.
func (k PathKey) Within(dir PathKey) bool {
	prefix := string(dir)
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(string(k), prefix)
}

// EntryMetadata is what a scan observes about one entry.
type EntryMetadata struct {
	ModTime time.Time
	Size    uint64
	// Inode is informational only; it never participates in change detection.
	Inode uint64
	// Checksum is zero unless content checksums were requested.
	Checksum    uint64
	IsDirectory bool
}

// Differs reports whether two observations of the same path represent a change.
// Directories only change by appearing or disappearing.
func (m EntryMetadata) Differs(other EntryMetadata) bool {
	if m.IsDirectory != other.IsDirectory {
		return true
	}
	if m.IsDirectory {
		return false
	}
	if m.Size != other.Size || !m.ModTime.Equal(other.ModTime) {
		return true
	}
	return m.Checksum != 0 && other.Checksum != 0 && m.Checksum != other.Checksum
}

// Snapshot is an immutable mapping of PathKey to EntryMetadata taken at one
// point in time. Keys are kept sorted so iteration is deterministic.
type Snapshot struct {
	takenAt     time.Time
	entries     map[PathKey]EntryMetadata
	root        PathKey
	keys        []PathKey
	rootPresent bool
}

// Missing returns the snapshot of a root that does not exist.
func Missing(root PathKey, takenAt time.Time) *Snapshot {
	return &Snapshot{
		root:    root,
		takenAt: takenAt,
		entries: map[PathKey]EntryMetadata{},
	}
}

// Root returns the watched root the snapshot was taken of.
func (s *Snapshot) Root() PathKey {
	return s.root
}

// TakenAt returns when the snapshot was completed.
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// RootPresent reports whether the root directory existed when the snapshot was taken.
func (s *Snapshot) RootPresent() bool {
	return s.rootPresent
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.keys)
}

// Get returns the metadata recorded for key.
func (s *Snapshot) Get(key PathKey) (EntryMetadata, bool) {
	meta, ok := s.entries[key]
	return meta, ok
}

// Has reports whether key is present.
func (s *Snapshot) Has(key PathKey) bool {
	_, ok := s.entries[key]
	return ok
}

// Keys returns a copy of the sorted keys.
func (s *Snapshot) Keys() []PathKey {
	return slices.Clone(s.keys)
}

// All iterates entries in key order.
func (s *Snapshot) All() iter.Seq2[PathKey, EntryMetadata] {
	return func(yield func(PathKey, EntryMetadata) bool) {
		for _, key := range s.keys {
			if !yield(key, s.entries[key]) {
				return
			}
		}
	}
}

// Under iterates entries strictly below dir in key order.
func (s *Snapshot) Under(dir PathKey) iter.Seq2[PathKey, EntryMetadata] {
	return func(yield func(PathKey, EntryMetadata) bool) {
		start, _ := slices.BinarySearch(s.keys, dir)
		for _, key := range s.keys[start:] {
			if key == dir {
				continue
			}
			if !key.Within(dir) {
				// Sorted order keeps descendants contiguous except for siblings
				// whose names sort between dir and dir+"/", e.g. "a-b" vs "a/".
				if strings.HasPrefix(string(key), string(dir)) {
					continue
				}
				return
			}
			if !yield(key, s.entries[key]) {
				return
			}
		}
	}
}

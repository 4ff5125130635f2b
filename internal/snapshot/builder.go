package snapshot

import (
	"maps"
	"slices"
	"time"
)

// Builder accumulates entries for a new Snapshot. A Builder is not safe for
// concurrent use; the Snapshot it produces is.
type Builder struct {
	entries     map[PathKey]EntryMetadata
	root        PathKey
	rootPresent bool
	built       bool
}

// NewBuilder starts an empty snapshot of an existing root.
func NewBuilder(root PathKey) *Builder {
	return &Builder{
		root:        root,
		rootPresent: true,
		entries:     make(map[PathKey]EntryMetadata),
	}
}

// Derive starts a builder seeded with every entry of base. base is not modified.
func Derive(base *Snapshot) *Builder {
	return &Builder{
		root:        base.root,
		rootPresent: base.rootPresent,
		entries:     maps.Clone(base.entries),
	}
}

// Put records metadata for key, replacing any previous value.
func (b *Builder) Put(key PathKey, meta EntryMetadata) {
	b.entries[key] = meta
}

// Delete removes key.
func (b *Builder) Delete(key PathKey) {
	delete(b.entries, key)
}

// DeleteUnder removes every entry strictly below dir.
func (b *Builder) DeleteUnder(dir PathKey) {
	for key := range b.entries {
		if key.Within(dir) {
			delete(b.entries, key)
		}
	}
}

// SetRootPresent records whether the root exists.
func (b *Builder) SetRootPresent(present bool) {
	b.rootPresent = present
	if !present {
		clear(b.entries)
	}
}

// Len returns the number of entries recorded so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Build freezes the builder into a Snapshot stamped with takenAt.
// The builder must not be used afterwards.
func (b *Builder) Build(takenAt time.Time) *Snapshot {
	if b.built {
		panic("snapshot: Builder reused after Build")
	}
	b.built = true

	keys := slices.Collect(maps.Keys(b.entries))
	slices.Sort(keys)

	return &Snapshot{
		root:        b.root,
		rootPresent: b.rootPresent,
		takenAt:     takenAt,
		entries:     b.entries,
		keys:        keys,
	}
}

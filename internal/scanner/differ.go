package scanner

import (
	"log/slog"
	"time"

	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// Differ compares two snapshots of the same root.
type Differ struct {
	logger *slog.Logger
}

// NewDiffer creates a new differ.
func NewDiffer(logger *slog.Logger) *Differ {
	return &Differ{
		logger: logger,
	}
}

// Diff returns the change records that turn prev into cur, all stamped with
// observedAt.
//
// Created and Modified records come first in cur's key order, followed by
// Deleted records in prev's key order. When the root itself appears, its
// Created record leads; when it disappears, its Deleted record trails.
// Identical snapshots produce no records.
func (d *Differ) Diff(prev, cur *snapshot.Snapshot, observedAt time.Time) []snapshot.ChangeRecord {
	var records []snapshot.ChangeRecord
	emit := func(path snapshot.PathKey, kind snapshot.ChangeKind) {
		records = append(records, snapshot.ChangeRecord{
			ObservedAt: observedAt,
			Path:       path,
			Kind:       kind,
		})
	}

	if !prev.RootPresent() && cur.RootPresent() {
		emit(cur.Root(), snapshot.Created)
	}

	var created, modified, deleted int
	for path, meta := range cur.All() {
		old, ok := prev.Get(path)
		switch {
		case !ok:
			emit(path, snapshot.Created)
			created++
		case old.Differs(meta):
			emit(path, snapshot.Modified)
			modified++
		}
	}

	for path := range prev.All() {
		if !cur.Has(path) {
			emit(path, snapshot.Deleted)
			deleted++
		}
	}

	if prev.RootPresent() && !cur.RootPresent() {
		emit(prev.Root(), snapshot.Deleted)
	}

	if len(records) > 0 {
		d.logger.Debug("diff computed",
			"root", cur.Root(),
			"created", created,
			"modified", modified,
			"deleted", deleted,
		)
	}

	return records
}

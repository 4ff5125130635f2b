package snapshot

import (
	"fmt"
	"time"
)

// ChangeKind is the type of a detected change.
type ChangeKind int

const (
	// Created is emitted for a path present now but absent from the baseline.
	Created ChangeKind = iota + 1
	// Modified is emitted when size or modification time changed.
	Modified
	// Deleted is emitted for a path present in the baseline but absent now.
	Deleted
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ParseChangeKind is the inverse of String.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch s {
	case "created":
		return Created, nil
	case "modified":
		return Modified, nil
	case "deleted":
		return Deleted, nil
	default:
		return 0, fmt.Errorf("unknown change kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ChangeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseChangeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ChangeRecord is one typed change for a single path.
type ChangeRecord struct {
	ObservedAt time.Time  `json:"observed_at"`
	Path       PathKey    `json:"path"`
	Kind       ChangeKind `json:"kind"`
}

// String renders the record as "kind path".
func (r ChangeRecord) String() string {
	return r.Kind.String() + " " + string(r.Path)
}

package watcher

// Op describes what a native notification reports about a path.
type Op uint8

const (
	// OpCreate is reported when an entry appears in a watched directory.
	OpCreate Op = 1 << iota
	// OpWrite is reported when a file's contents or metadata change.
	OpWrite
	// OpRemove is reported when an entry is deleted or moved away.
	OpRemove
	// OpOverflow is reported when the kernel dropped notifications.
	// Path is empty and the whole tree must be re-examined.
	OpOverflow
)

// String returns the string representation of the op.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Notification is one raw event from a native backend. Notifications only
// say which paths to look at; the snapshot decides what actually changed.
type Notification struct {
	Path string
	Op   Op
}

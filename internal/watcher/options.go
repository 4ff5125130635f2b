package watcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/scanner"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// Mode selects how changes are detected.
type Mode int

const (
	// ModePoll re-scans the tree every PollInterval and diffs snapshots.
	ModePoll Mode = iota
	// ModeNative subscribes to OS notifications and only re-examines the
	// paths they mention.
	ModeNative
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModePoll:
		return "poll"
	case ModeNative:
		return "native"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "poll", "":
		return ModePoll, nil
	case "native":
		return ModeNative, nil
	default:
		return ModePoll, fmt.Errorf("unknown watch mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Native backend names.
const (
	BackendAuto     = ""
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// Options configures a watch. Start from DefaultOptions: the zero value of
// Recursive is false, so a bare Options literal watches only the top level.
type Options struct {
	// Root is the directory to watch.
	Root string
	// Backend picks the native implementation. Empty selects inotify on
	// Linux and fsnotify elsewhere.
	Backend        string
	IgnorePatterns []string
	// PollInterval is the delay between poll cycles.
	PollInterval time.Duration
	// NativeWaitTimeout bounds each blocking wait for native notifications,
	// and with it how long Stop and Rescan can take to be noticed.
	NativeWaitTimeout time.Duration
	Mode              Mode
	// Recursive descends into subdirectories. DefaultOptions sets it.
	Recursive    bool
	IncludeDirs  bool
	IgnoreHidden bool
	// Checksum hashes file contents on every observation.
	Checksum bool
	// StrictNative makes Start fail when native notifications cannot be set
	// up, instead of falling back to polling.
	StrictNative bool
}

// DefaultOptions returns recursive poll-mode options for root.
func DefaultOptions(root string) Options {
	opts := Options{
		Root:      root,
		Recursive: true,
	}
	opts.setDefaults()
	return opts
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = time.Second
	}
	if o.NativeWaitTimeout == 0 {
		o.NativeWaitTimeout = 250 * time.Millisecond
	}
}

// validate checks options after defaults are applied.
func (o *Options) validate() error {
	var problems []string
	if strings.TrimSpace(o.Root) == "" {
		problems = append(problems, "root is required")
	}
	if o.PollInterval < 0 {
		problems = append(problems, "poll interval must be positive")
	}
	if o.NativeWaitTimeout < 0 {
		problems = append(problems, "native wait timeout must be positive")
	}
	if o.Mode != ModePoll && o.Mode != ModeNative {
		problems = append(problems, fmt.Sprintf("unknown mode %d", o.Mode))
	}
	switch o.Backend {
	case BackendAuto, BackendInotify, BackendFsnotify:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", o.Backend))
	}
	if err := o.filter().Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("bad ignore pattern: %v", err))
	}

	if len(problems) > 0 {
		return errors.ValidationWithDetails("invalid watch options: "+strings.Join(problems, "; "), problems)
	}
	return nil
}

func (o *Options) root() snapshot.PathKey {
	return snapshot.NewPathKey(o.Root)
}

func (o *Options) filter() scanner.Filter {
	return scanner.Filter{
		IgnorePatterns: o.IgnorePatterns,
		IgnoreHidden:   o.IgnoreHidden,
	}
}

func (o *Options) scannerOptions() scanner.Options {
	return scanner.Options{
		Filter:      o.filter(),
		Recursive:   o.Recursive,
		IncludeDirs: o.IncludeDirs,
		Checksum:    o.Checksum,
	}
}

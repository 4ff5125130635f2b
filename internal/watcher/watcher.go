// Package watcher detects changes under a directory tree and reports them as
// typed change records. Each Watcher owns its baseline snapshot and a single
// background goroutine, so independent watches never share state.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/id"
	"github.com/listenupapp/dirwatch/internal/scanner"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// State is the lifecycle state of a Watcher.
type State int32

const (
	// StateIdle means no background goroutine exists.
	StateIdle State = iota
	// StateRunning means the watch loop is active.
	StateRunning
	// StateStopping means Stop is waiting for the loop to exit.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Stats summarizes a watch's activity since it was created.
type Stats struct {
	LastCycle        time.Time `json:"last_cycle,omitzero"`
	Backend          string    `json:"backend,omitempty"`
	Mode             Mode      `json:"mode"`
	Cycles           uint64    `json:"cycles"`
	Records          uint64    `json:"records"`
	CallbackFailures uint64    `json:"callback_failures"`
	ScanErrors       uint64    `json:"scan_errors"`
	Entries          int       `json:"entries"`
}

// Watcher monitors one directory tree. It is the handle callers use to start,
// stop and inspect a watch session.
//
// Callbacks run on the watcher's goroutine. They must not call Stop on the
// same Watcher, which would wait for the callback to return.
type Watcher struct {
	logger   *slog.Logger
	scanner  *scanner.Scanner
	differ   *scanner.Differ
	dispatch *dispatcher
	baseline atomic.Pointer[snapshot.Snapshot]
	rescan   chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	id       string
	backend  string
	opts     Options
	root     snapshot.PathKey
	mu       sync.Mutex

	state      atomic.Int32
	mode       atomic.Int32
	cycles     atomic.Uint64
	scanErrors atomic.Uint64
	lastCycle  atomic.Int64
}

// New creates a Watcher for opts.Root. Nothing touches the filesystem until
// Start. opts should come from DefaultOptions, which makes the watch
// recursive; unset intervals are defaulted here. onChange is required;
// onError may be nil, in which case runtime errors are only logged.
func New(logger *slog.Logger, opts Options, onChange ChangeFunc, onError ErrorFunc) (*Watcher, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if onChange == nil {
		return nil, errors.Validation("change callback is required")
	}

	watchID, err := id.Generate(id.PrefixWatch)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "generate watch id")
	}

	root := opts.root()
	logger = logger.With("watch_id", watchID, "root", root)

	w := &Watcher{
		logger:   logger,
		scanner:  scanner.NewScanner(logger, opts.scannerOptions()),
		differ:   scanner.NewDiffer(logger),
		dispatch: newDispatcher(logger, onChange, onError),
		rescan:   make(chan struct{}, 1),
		id:       watchID,
		opts:     opts,
		root:     root,
	}
	w.mode.Store(int32(opts.Mode))
	return w, nil
}

// ID returns the watch's identifier.
func (w *Watcher) ID() string {
	return w.id
}

// Root returns the watched directory.
func (w *Watcher) Root() snapshot.PathKey {
	return w.root
}

// Options returns the options the watcher was created with, defaults applied.
func (w *Watcher) Options() Options {
	return w.opts
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Baseline returns the most recent snapshot, or nil before the first Start.
func (w *Watcher) Baseline() *snapshot.Snapshot {
	return w.baseline.Load()
}

// Start takes the initial snapshot and launches the watch goroutine.
//
// It fails with ALREADY_RUNNING unless the watcher is idle. Root problems are
// reported synchronously (PATH_NOT_FOUND, NOT_A_DIRECTORY, PERMISSION_DENIED)
// and leave no goroutine behind. ctx bounds the initial scan only; the watch
// runs until Stop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if state := w.State(); state != StateIdle {
		return errors.AlreadyRunning("watch is " + state.String())
	}

	src, baseline, err := w.prepare(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	// Drop any rescan requested while idle.
	select {
	case <-w.rescan:
	default:
	}

	w.baseline.Store(baseline)
	w.cancel = cancel
	w.done = done
	w.backend = src.backendName()
	w.mode.Store(int32(src.mode()))
	w.state.Store(int32(StateRunning))

	go w.run(loopCtx, src, done)

	w.logger.Info("watch started",
		"mode", src.mode(),
		"backend", src.backendName(),
		"entries", baseline.Len(),
	)
	return nil
}

// prepare validates the root, takes the initial snapshot and builds the
// change source, falling back from native to poll when allowed.
func (w *Watcher) prepare(ctx context.Context) (changeSource, *snapshot.Snapshot, error) {
	if err := scanner.CheckRoot(w.root); err != nil {
		return nil, nil, err
	}

	if w.opts.Mode == ModeNative {
		src, baseline, err := w.prepareNative(ctx)
		if err == nil {
			return src, baseline, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if w.opts.StrictNative {
			return nil, nil, err
		}
		w.logger.Warn("native watch unavailable, falling back to polling", "error", err)
	}

	baseline, err := w.scanner.Scan(ctx, w.root)
	if err != nil {
		return nil, nil, err
	}
	return newPollSource(w.scanner, w.root, w.opts.PollInterval, w.rescan), baseline, nil
}

func (w *Watcher) prepareNative(ctx context.Context) (changeSource, *snapshot.Snapshot, error) {
	backend, err := openBackend(w.logger, w.opts.Backend)
	if err != nil {
		return nil, nil, errors.NativeWatchSetupFailed("create native backend").WithCause(err)
	}

	src := newNativeSource(w.logger, backend, w.scanner, w.root, w.opts.NativeWaitTimeout, w.rescan)
	baseline, err := src.resync(ctx)
	if err == nil && !baseline.RootPresent() {
		err = errors.PathNotFoundf("%s does not exist", w.root)
	}
	if err == nil && src.addErr != nil {
		err = errors.NativeWatchSetupFailed("add native watches").WithCause(src.addErr)
	}
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return src, baseline, nil
}

// run is the watch loop. It owns the change source and is the only writer of
// the baseline while running.
func (w *Watcher) run(ctx context.Context, src changeSource, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := src.close(); err != nil {
			w.logger.Warn("failed to close change source", "error", err)
		}
	}()

	baseline := w.baseline.Load()
	for {
		next, err := src.next(ctx, baseline)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.scanErrors.Add(1)
			w.dispatch.report(err)
			continue
		}

		records := w.differ.Diff(baseline, next, time.Now())
		baseline = next
		w.baseline.Store(next)
		w.cycles.Add(1)
		w.lastCycle.Store(time.Now().UnixNano())

		w.dispatch.deliver(ctx, records)
	}
}

// Stop cancels the watch and waits for its goroutine to exit. No callback
// fires after Stop returns. Stopping an idle watcher is a no-op, and
// concurrent calls all wait for the same shutdown.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	switch w.State() {
	case StateIdle:
		w.mu.Unlock()
		return nil
	case StateStopping:
		done := w.done
		w.mu.Unlock()
		<-done
		return nil
	}

	w.state.Store(int32(StateStopping))
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	w.cancel = nil
	w.state.Store(int32(StateIdle))
	w.mu.Unlock()

	w.logger.Info("watch stopped", "cycles", w.cycles.Load())
	return nil
}

// Rescan asks the running watch for an immediate full cycle. Requests made
// while one is already pending are merged.
func (w *Watcher) Rescan() error {
	if w.State() != StateRunning {
		return errors.NotRunning("watch is not running")
	}
	select {
	case w.rescan <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns a summary of the watch's activity.
func (w *Watcher) Stats() Stats {
	stats := Stats{
		Mode:             Mode(w.mode.Load()),
		Cycles:           w.cycles.Load(),
		Records:          w.dispatch.delivered.Load(),
		CallbackFailures: w.dispatch.failures.Load(),
		ScanErrors:       w.scanErrors.Load(),
	}
	if ns := w.lastCycle.Load(); ns != 0 {
		stats.LastCycle = time.Unix(0, ns)
	}
	if baseline := w.baseline.Load(); baseline != nil {
		stats.Entries = baseline.Len()
	}

	w.mu.Lock()
	stats.Backend = w.backend
	w.mu.Unlock()

	return stats
}

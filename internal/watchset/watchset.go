// Package watchset runs the watches declared in the host configuration and
// routes their change records to the log, the journal and the event stream.
package watchset

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/dirwatch/internal/config"
	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/ratelimit"
	"github.com/listenupapp/dirwatch/internal/snapshot"
	"github.com/listenupapp/dirwatch/internal/sse"
	"github.com/listenupapp/dirwatch/internal/watcher"
)

const (
	// journalTimeout bounds one journal write from a change callback.
	journalTimeout = 5 * time.Second

	errorLogInterval = 10 * time.Second
	errorLogBurst    = 3
)

// Recorder persists delivered change records.
type Recorder interface {
	Append(ctx context.Context, watch string, records []snapshot.ChangeRecord) error
}

// Broadcaster fans events out to stream clients.
type Broadcaster interface {
	Emit(event sse.Event)
}

// Watch is a named watcher.
type Watch struct {
	*watcher.Watcher
	Name string
}

// Set owns the host's watches. Each watch is independent: one failing to
// start or erroring at runtime does not affect the others.
type Set struct {
	logger      *slog.Logger
	recorder    Recorder
	broadcaster Broadcaster
	watches     []*Watch
	byKey       map[string]*Watch
}

// New builds one watcher per declaration. recorder and broadcaster may be nil.
func New(logger *slog.Logger, decls []config.WatchConfig, recorder Recorder, broadcaster Broadcaster) (*Set, error) {
	s := &Set{
		logger:      logger,
		recorder:    recorder,
		broadcaster: broadcaster,
		byKey:       make(map[string]*Watch, 2*len(decls)),
	}

	for _, decl := range decls {
		if _, dup := s.byKey[decl.Name]; dup {
			return nil, errors.Validation("duplicate watch name " + decl.Name)
		}
		opts, err := decl.Options()
		if err != nil {
			return nil, err
		}

		log := logger.With("watch", decl.Name)
		w, err := watcher.New(log, opts, s.onChange(decl.Name, log), s.onError(decl.Name, log))
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeOf(err), "watch %s", decl.Name)
		}

		watch := &Watch{Watcher: w, Name: decl.Name}
		s.watches = append(s.watches, watch)
		s.byKey[decl.Name] = watch
		s.byKey[w.ID()] = watch
	}
	return s, nil
}

// onChange returns the callback that logs, broadcasts and journals a record.
// A journal failure is returned so the watcher reports it as CALLBACK_FAILED.
func (s *Set) onChange(name string, log *slog.Logger) watcher.ChangeFunc {
	return func(rec snapshot.ChangeRecord) error {
		log.Info("change", "kind", rec.Kind, "path", rec.Path)

		if s.broadcaster != nil {
			s.broadcaster.Emit(sse.NewChangeEvent(name, rec))
		}
		if s.recorder == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		return s.recorder.Append(ctx, name, []snapshot.ChangeRecord{rec})
	}
}

// onError returns the callback that logs and broadcasts watch errors. A watch
// whose root stays unreadable fails every cycle, so the log line is throttled
// per code; every error still reaches the event stream.
func (s *Set) onError(name string, log *slog.Logger) watcher.ErrorFunc {
	limiter := ratelimit.Every(errorLogInterval, errorLogBurst)
	return func(err error) {
		code := errors.CodeOf(err)
		if allowed, skipped := limiter.AllowN(string(code)); allowed {
			log.Warn("watch error", "code", code, "error", err, "suppressed", skipped)
		}
		if s.broadcaster != nil {
			s.broadcaster.Emit(sse.NewWatchErrorEvent(name, err))
		}
	}
}

// List returns the watches in declaration order.
func (s *Set) List() []*Watch {
	out := make([]*Watch, len(s.watches))
	copy(out, s.watches)
	return out
}

// Len returns the number of watches.
func (s *Set) Len() int {
	return len(s.watches)
}

// Get finds a watch by name or by watch ID.
func (s *Set) Get(key string) (*Watch, error) {
	if w, ok := s.byKey[key]; ok {
		return w, nil
	}
	return nil, errors.NotFoundf("watch %q not found", key)
}

// StartAll starts every watch. Watches that fail to start stay idle; their
// errors are joined into the result. It reports how many are running.
func (s *Set) StartAll(ctx context.Context) (int, error) {
	var (
		errs    []error
		running int
	)
	for _, w := range s.watches {
		if err := w.Start(ctx); err != nil {
			s.logger.Error("watch failed to start",
				"watch", w.Name,
				"root", w.Root(),
				"code", errors.CodeOf(err),
				"error", err,
			)
			errs = append(errs, errors.Wrapf(err, errors.CodeOf(err), "watch %s", w.Name))
			continue
		}
		running++
	}
	return running, errors.Join(errs...)
}

// StopAll stops every watch concurrently and waits for all of them.
func (s *Set) StopAll() error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, w := range s.watches {
		wg.Go(func() {
			if err := w.Stop(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

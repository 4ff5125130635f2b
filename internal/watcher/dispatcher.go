package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/ratelimit"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// ChangeFunc receives one change record. A returned error is reported through
// the watch's ErrorFunc as CALLBACK_FAILED; delivery of later records continues.
type ChangeFunc func(snapshot.ChangeRecord) error

// ErrorFunc receives every error raised while a watch is running, including
// repeats of the same failure on consecutive cycles. It runs on the watch
// goroutine, so it should return quickly.
type ErrorFunc func(error)

// dispatcher delivers records to the user's callback on the watch goroutine,
// one at a time and in order, keeping callback failures away from the loop.
type dispatcher struct {
	logger   *slog.Logger
	onChange ChangeFunc
	onError  ErrorFunc
	limiter  *ratelimit.KeyedRateLimiter

	delivered atomic.Uint64
	failures  atomic.Uint64
}

func newDispatcher(logger *slog.Logger, onChange ChangeFunc, onError ErrorFunc) *dispatcher {
	return &dispatcher{
		logger:   logger,
		onChange: onChange,
		onError:  onError,
		limiter:  ratelimit.Every(10*time.Second, 3),
	}
}

// deliver hands records to the callback until ctx is done.
// It returns how many records were delivered.
func (d *dispatcher) deliver(ctx context.Context, records []snapshot.ChangeRecord) int {
	count := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if err := d.invoke(rec); err != nil {
			d.failures.Add(1)
			d.report(err)
		}
		d.delivered.Add(1)
		count++
	}
	return count
}

// invoke runs the callback for one record, converting panics into errors.
func (d *dispatcher) invoke(rec snapshot.ChangeRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			d.logger.Error("change callback panicked",
				"path", rec.Path,
				"kind", rec.Kind,
				"panic", r,
				"stack", string(stack),
			)
			err = errors.Wrapf(fmt.Errorf("panic: %v", r), errors.CodeCallbackFailed, "callback panicked on %s", rec).
				WithDetails(map[string]any{"path": rec.Path, "kind": rec.Kind})
		}
	}()

	if cbErr := d.onChange(rec); cbErr != nil {
		return errors.Wrapf(cbErr, errors.CodeCallbackFailed, "callback failed on %s", rec).
			WithDetails(map[string]any{"path": rec.Path, "kind": rec.Kind})
	}
	return nil
}

// report passes err to the error callback. Without one, the error is logged
// instead, throttled per code.
func (d *dispatcher) report(err error) {
	if d.onError == nil {
		code := errors.CodeOf(err)
		if allowed, skipped := d.limiter.AllowN(string(code)); allowed {
			d.logger.Warn("watch error", "code", code, "error", err, "suppressed", skipped)
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("error callback panicked", "panic", r, "error", err)
		}
	}()
	d.onError(err)
}

package watcher

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

func records(paths ...string) []snapshot.ChangeRecord {
	out := make([]snapshot.ChangeRecord, 0, len(paths))
	for _, p := range paths {
		out = append(out, snapshot.ChangeRecord{Path: snapshot.PathKey(p), Kind: snapshot.Created, ObservedAt: time.Now()})
	}
	return out
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	var got []string
	d := newDispatcher(testLogger(), func(rec snapshot.ChangeRecord) error {
		got = append(got, rec.Path.String())
		return nil
	}, nil)

	n := d.deliver(context.Background(), records("/w/a", "/w/b", "/w/c"))
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"/w/a", "/w/b", "/w/c"}, got)
	assert.Equal(t, uint64(3), d.delivered.Load())
}

func TestDispatcher_ContainsFailures(t *testing.T) {
	var reported []error
	d := newDispatcher(testLogger(), func(rec snapshot.ChangeRecord) error {
		switch rec.Path {
		case "/w/err":
			return stderrors.New("nope")
		case "/w/panic":
			panic("kaboom")
		}
		return nil
	}, func(err error) { reported = append(reported, err) })

	n := d.deliver(context.Background(), records("/w/err", "/w/panic", "/w/ok"))
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(2), d.failures.Load())

	require.Len(t, reported, 2)
	for _, err := range reported {
		assert.ErrorIs(t, err, errors.ErrCallbackFailed)
	}
	assert.Contains(t, reported[1].Error(), "kaboom")
}

func TestDispatcher_StopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	d := newDispatcher(testLogger(), func(snapshot.ChangeRecord) error {
		calls++
		cancel()
		return nil
	}, nil)

	n := d.deliver(ctx, records("/w/a", "/w/b"))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestDispatcher_ReportsEveryError(t *testing.T) {
	var reported int
	d := newDispatcher(testLogger(), func(snapshot.ChangeRecord) error { return nil }, func(error) { reported++ })

	scanErr := errors.Wrap(stderrors.New("io"), errors.CodeScanFailed, "scan")
	for range 20 {
		d.report(scanErr)
	}
	assert.Equal(t, 20, reported)

	cbErr := errors.Wrap(stderrors.New("cb"), errors.CodeCallbackFailed, "callback")
	for range 5 {
		d.report(cbErr)
	}
	assert.Equal(t, 25, reported)
}

func TestDispatcher_ThrottlesErrorLogWithoutCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	d := newDispatcher(logger, func(snapshot.ChangeRecord) error { return nil }, nil)

	scanErr := errors.Wrap(stderrors.New("io"), errors.CodeScanFailed, "scan")
	for range 20 {
		d.report(scanErr)
	}
	assert.Equal(t, 3, strings.Count(buf.String(), "watch error"))
}

func TestDispatcher_PanickingErrorCallback(t *testing.T) {
	d := newDispatcher(testLogger(), func(snapshot.ChangeRecord) error {
		return stderrors.New("x")
	}, func(error) { panic("handler broke") })

	assert.NotPanics(t, func() {
		d.deliver(context.Background(), records("/w/a"))
	})
}

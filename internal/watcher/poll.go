package watcher

import (
	"context"
	"time"

	"github.com/listenupapp/dirwatch/internal/scanner"
	"github.com/listenupapp/dirwatch/internal/snapshot"
)

// pollSource re-scans the whole tree on every interval.
type pollSource struct {
	scanner  *scanner.Scanner
	rescan   <-chan struct{}
	root     snapshot.PathKey
	interval time.Duration
}

func newPollSource(s *scanner.Scanner, root snapshot.PathKey, interval time.Duration, rescan <-chan struct{}) *pollSource {
	return &pollSource{
		scanner:  s,
		rescan:   rescan,
		root:     root,
		interval: interval,
	}
}

func (p *pollSource) next(ctx context.Context, _ *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	if !sleep(ctx, p.interval, p.rescan) {
		return nil, ctx.Err()
	}

	snap, err := p.scanner.Scan(ctx, p.root)
	if err != nil {
		if rootMissing(err) {
			return snapshot.Missing(p.root, time.Now()), nil
		}
		return nil, err
	}
	return snap, nil
}

func (p *pollSource) mode() Mode {
	return ModePoll
}

func (p *pollSource) backendName() string {
	return ""
}

func (p *pollSource) close() error {
	return nil
}

package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/listenupapp/dirwatch/internal/config"
	"github.com/listenupapp/dirwatch/internal/journal"
	"github.com/listenupapp/dirwatch/internal/logger"
	"github.com/listenupapp/dirwatch/internal/sse"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.WithField("component", "sse").Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// JournalHandle wraps the change journal and its retention loop.
type JournalHandle struct {
	*journal.Journal
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *JournalHandle) Shutdown() error {
	h.cancel()
	<-h.done
	return h.Close()
}

// ProvideJournal opens the change journal and starts pruning it when a
// retention period is configured.
func ProvideJournal(i do.Injector) (*JournalHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	j, err := journal.Open(cfg.Journal.Path, log.WithField("component", "journal").Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.RunRetention(ctx, cfg.Journal.Retention, retentionInterval)
	}()

	log.WithFields(map[string]any{
		"path":      cfg.Journal.Path,
		"retention": cfg.Journal.Retention,
	}).Info("Change journal opened")

	return &JournalHandle{Journal: j, cancel: cancel, done: done}, nil
}

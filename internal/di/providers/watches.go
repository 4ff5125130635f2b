package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/dirwatch/internal/config"
	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/logger"
	"github.com/listenupapp/dirwatch/internal/watchset"
)

// WatchSetHandle wraps the watch set with shutdown capability.
type WatchSetHandle struct {
	*watchset.Set
}

// Shutdown implements do.Shutdownable.
func (h *WatchSetHandle) Shutdown() error {
	return h.StopAll()
}

// ProvideWatchSet builds and starts every configured watch. Watches whose
// root is unusable stay idle and can be started later through the API; the
// host fails only when none of them could start.
func ProvideWatchSet(i do.Injector) (*WatchSetHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	journalHandle := do.MustInvoke[*JournalHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	set, err := watchset.New(log.WithField("component", "watches").Logger, cfg.Watches, journalHandle.Journal, sseHandle.Manager)
	if err != nil {
		return nil, err
	}

	running, err := set.StartAll(context.Background())
	if running == 0 {
		return nil, errors.Join(errors.Validation("no watch could be started"), err)
	}
	if err != nil {
		log.WithError(err).Warn("Some watches failed to start", "running", running, "total", set.Len())
	}

	log.Info("Watches started", "running", running, "total", set.Len())
	return &WatchSetHandle{Set: set}, nil
}

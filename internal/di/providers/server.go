package providers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/listenupapp/dirwatch/internal/api"
	"github.com/listenupapp/dirwatch/internal/config"
	"github.com/listenupapp/dirwatch/internal/logger"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	journalHandle := do.MustInvoke[*JournalHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	watchHandle := do.MustInvoke[*WatchSetHandle](i)

	handler := api.NewServer(api.Options{
		Watches:     watchHandle.Set,
		Journal:     journalHandle.Journal,
		SSEManager:  sseHandle.Manager,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log.WithField("component", "http").Logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Bind synchronously so a taken port fails startup.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	log.Info("HTTP server running", "addr", ln.Addr().String())

	return &HTTPServerHandle{Server: srv}, nil
}

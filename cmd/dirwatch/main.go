// Package main provides the entry point for the dirwatch host: it runs the
// configured directory watches, journals their changes and serves the API.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/listenupapp/dirwatch/internal/di"
	"github.com/listenupapp/dirwatch/internal/logger"
)

func main() {
	injector := di.NewContainer()

	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start dirwatch: %v\n", err)
		// Release whatever did start (journal, stream manager, watches).
		_ = injector.Shutdown()
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gracefully...")

	// The container shuts services down in reverse dependency order:
	// HTTP server, watches, then the journal and stream manager.
	if err := injector.Shutdown(); err != nil {
		log.Fatal("Shutdown error", "error", err)
	}

	log.Info("Stopped")
}

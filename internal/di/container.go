// Package di provides dependency injection configuration for the dirwatch host.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/dirwatch/internal/config"
	"github.com/listenupapp/dirwatch/internal/di/providers"
	"github.com/listenupapp/dirwatch/internal/logger"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Outputs
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideJournal)

	// Watches
	do.Provide(injector, providers.ProvideWatchSet)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services. Watches start before the HTTP server
// so the API never reports a half-built set.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)

	if _, err := do.Invoke[*providers.SSEManagerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.JournalHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.WatchSetHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}
	return nil
}

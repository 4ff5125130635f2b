// Package providers contains dependency injection providers for the dirwatch host.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/dirwatch/internal/config"
	"github.com/listenupapp/dirwatch/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Format:      cfg.Logger.Format,
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting dirwatch",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"journal_path", cfg.Journal.Path,
		"watches", len(cfg.Watches),
	)

	return log, nil
}

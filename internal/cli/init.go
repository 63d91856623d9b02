// Package cli provides the initialization shared by cmd/finledger,
// cmd/ingest-worker and cmd/report-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"finledger/internal/config"
	applog "finledger/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	lc := applog.DefaultConfig()
	lc.Level = applog.ParseLevel(cfg.LogLevel)
	lc.Format = cfg.LogFormat
	lc.Component = component
	logger := applog.New(lc)
	applog.SetDefault(logger)
	return logger
}

// Bootstrap loads .env, the process config and the domain settings, and
// sets up logging. It exits the process when either config is invalid.
func Bootstrap(component string) (*config.Config, *config.Domain, *applog.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	domain, err := config.LoadDomain(cfg.DomainConfigPath)
	if err != nil {
		logger.Error("Domain configuration invalid", applog.FieldError, err, "path", cfg.DomainConfigPath)
		os.Exit(1)
	}
	logger.Info("Configuration loaded",
		"backend", cfg.DataBackend,
		"categories", len(domain.Categories),
		"budgets", len(domain.Budgets),
		"schedules", len(domain.Schedules),
		"timezone", domain.Timezone)
	return cfg, domain, logger
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

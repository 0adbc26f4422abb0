// Package cli holds the start-up steps shared by cmd/ledger and
// cmd/ledger-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"rhledger/internal/config"
	"rhledger/internal/log"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(os.Getenv("LOG_LEVEL")),
		Component: component,
		JSON:      os.Getenv("LOG_FORMAT") == "json",
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and exits on any problem.
// extra runs after the common checks, e.g. Config.ValidateWorker.
func LoadAndValidateConfig(logger *log.Logger, extra ...func(*config.Config) error) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	for _, check := range extra {
		if err := check(cfg); err != nil {
			logger.Error("Configuration validation failed", log.FieldError, err)
			os.Exit(1)
		}
	}
	return cfg
}

// SignalContext is cancelled on SIGINT or SIGTERM. A second signal falls
// through to the default handler and kills the process.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)
		stop()
	}()
	return ctx, stop
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"rhledger/internal/amqp"
	"rhledger/internal/backend"
	"rhledger/internal/cli"
	"rhledger/internal/config"
	"rhledger/internal/log"
	"rhledger/internal/rates"
	"rhledger/internal/sheets/google"
	"rhledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	if backendConfig.Type != backend.SQLiteBackend {
		logger.Warn("Report worker runs on a private in-memory store; reports will be empty",
			"backend", backendConfig.Type)
	}

	be, err := backend.NewFactory(logger).CreateBackend(ctx, backendConfig)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Failed to close backend", log.FieldError, err)
		}
	}()

	provider := rates.NewProvider(
		rates.NewHTTPSource(cfg.RateSourceURL, &http.Client{Timeout: 10 * time.Second}),
		be.Store, cfg.FallbackEGPRate, 2*cfg.RateRefreshInterval, logger)
	provider.Load(ctx)
	scheduler, err := rates.NewScheduler(provider, cfg.RateRefreshInterval, logger)
	if err != nil {
		logger.Error("Failed to create rate scheduler", log.FieldError, err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("Failed to start rate scheduler", log.FieldError, err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	sheetsClient, err := google.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleReportSheetName, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}

	reports, err := worker.NewReportWorker(be.Store, sheetsClient, provider, cfg.MarketingSplit, cfg.ReportInterval, logger)
	if err != nil {
		logger.Error("Failed to create report worker", log.FieldError, err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := reports.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, "ledger-worker", logger)
		if err != nil {
			logger.Warn("AMQP unavailable, exporting on interval only", log.FieldError, err)
		} else {
			defer client.Close()
			g.Go(func() error {
				logger.Info("Starting AMQP change consumer", "queue", cfg.AMQPQueue)
				if err := client.ConsumeChanges(gctx, reports.HandleChangeMessage); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Change consumer stopped", log.FieldError, err)
				}
				return nil
			})
		}
	}

	logger.Info("Report worker started",
		"report_interval", cfg.ReportInterval.String(),
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"amqp_enabled", cfg.AMQPURL != "")

	if err := g.Wait(); err != nil {
		logger.Error("Report worker failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Report worker stopped gracefully")
}

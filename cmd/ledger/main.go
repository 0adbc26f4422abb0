package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rhledger/internal/amqp"
	"rhledger/internal/backend"
	"rhledger/internal/cli"
	"rhledger/internal/dashboard"
	apphttp "rhledger/internal/http"
	"rhledger/internal/log"
	"rhledger/internal/rates"
	"rhledger/internal/services"
	"rhledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	factory := backend.NewFactory(logger)
	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	be, err := factory.CreateBackend(ctx, backendConfig)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err, "backend", backendConfig.Type)
		os.Exit(1)
	}
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Failed to close backend", log.FieldError, err)
		}
	}()

	att, err := factory.CreateAttachmentHost(ctx, backendConfig)
	if err != nil {
		logger.Error("Failed to create attachment host", log.FieldError, err)
		os.Exit(1)
	}
	if att.Cleanup != nil {
		defer att.Cleanup()
	}

	provider := rates.NewProvider(
		rates.NewHTTPSource(cfg.RateSourceURL, &http.Client{Timeout: 10 * time.Second}),
		be.Store, cfg.FallbackEGPRate, 2*cfg.RateRefreshInterval, logger)
	q := provider.Load(ctx)
	logger.Info("Exchange rate loaded", "egp_rate", q.Rate, "origin", q.Origin)

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

	// Each API process gets its own origin so it can skip its own echoes.
	origin := "ledger-" + uuid.NewString()
	var (
		publisher  services.Publisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		// Only a store other processes can write to needs the private queue.
		if be.Refresher != nil {
			amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, "", origin, logger)
		} else {
			amqpClient, err = amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, origin, logger)
		}
		if err != nil {
			logger.Warn("AMQP unavailable, continuing without change fan-out", log.FieldError, err)
			amqpClient = nil
		} else {
			publisher = amqpClient
			defer amqpClient.Close()
		}
	}

	svc := services.NewLedgerService(be.Store, provider, att.Host, publisher, logger)

	view, err := dashboard.New(be.Store, provider, cfg.MarketingSplit, logger)
	if err != nil {
		logger.Error("Failed to create dashboard", log.FieldError, err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:           ":" + cfg.Port,
		Ledger:         svc,
		View:           view,
		Rates:          provider,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := view.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting ledger server",
			"port", cfg.Port,
			"backend", backendConfig.Type,
			"attachments", backendConfig.Attachments,
			"amqp_enabled", amqpClient != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
			return err
		}
		return nil
	})

	if amqpClient != nil && be.Refresher != nil {
		syncer := worker.NewChangeSyncer(be.Refresher, origin, logger)
		g.Go(func() error {
			if err := amqpClient.ConsumeChanges(gctx, syncer.HandleChangeMessage); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Change consumer stopped", log.FieldError, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Ledger server failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

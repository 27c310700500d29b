package main

import (
	"context"
	"errors"
	"os"
	"time"

	"smartpocket/internal/amqp"
	"smartpocket/internal/backend"
	"smartpocket/internal/cache"
	"smartpocket/internal/cli"
	"smartpocket/internal/config"
	"smartpocket/internal/log"
	"smartpocket/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig((*config.Config).ValidateWorker)
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentWorker)

	logger.Info("Starting smartpocket-worker", "ledger", cfg.LedgerBackend)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	ledger, err := backend.NewLedger(ctx, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize ledger", err)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}
	defer amqpClient.Close()

	ledgerWorker := worker.NewLedgerWorker(ledger)

	caches := cache.NewManager()
	caches.Register("ledger_seen", ledgerWorker.SeenCache())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeExpenseRecorded(gctx, ledgerWorker.HandleExpenseRecorded)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if removed := caches.Sweep(); removed > 0 {
					logger.Debug("Swept expired dedupe entries", "removed", removed)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Message consumption failed", log.FieldError, err)
		return err
	}
	logger.Info("Worker stopped gracefully")
	return nil
}

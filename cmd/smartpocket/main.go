package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"smartpocket/internal/amqp"
	"smartpocket/internal/backend"
	"smartpocket/internal/cache"
	"smartpocket/internal/cli"
	"smartpocket/internal/config"
	apphttp "smartpocket/internal/http"
	"smartpocket/internal/log"
	"smartpocket/internal/services"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig((*config.Config).Validate)
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentApp)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	caches := cache.NewManager()
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	store, err := backend.NewFactory(logger.Logger.With(log.FieldComponent, log.ComponentBackend), caches).CreateBackend(ctx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize profile store", err, "backend", cfg.DataBackend)
	}
	if store.Cleanup != nil {
		defer func() {
			if err := store.Cleanup(); err != nil {
				logger.Error("Failed to close profile store", log.FieldError, err)
			}
		}()
	}

	advisor, err := backend.NewAdvisor(ctx, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize advice backend", err, "ai_backend", cfg.AIBackend)
	}

	checks := map[string]apphttp.ReadinessCheck{
		"storage": store.Ping,
	}

	// Expense events are optional; the API keeps working without a broker.
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without expense events", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			checks["amqp"] = func(context.Context) error {
				if amqpClient.State() == amqp.StateOpen {
					return amqp.ErrCircuitOpen
				}
				return nil
			}
			logger.Info("Initialized AMQP publisher",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	sessions := services.NewSessionController(store.Store, advisor, publisher)

	srv := apphttp.NewServer(":"+cfg.Port, sessions, apphttp.Options{
		Currency:          cfg.Currency,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Checks:            checks,
		Logger:            logger,
		TrustedProxies:    cfg.TrustedProxies,
	})

	// Configure server timeouts and limits; chat requests wait on the advice backend.
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.AITimeout + 10*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting smartpocket server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"ai_backend", cfg.AIBackend,
			"amqp_enabled", publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

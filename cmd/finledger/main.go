package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"finledger/internal/cli"
	"finledger/internal/config"
	apphttp "finledger/internal/http"
	applog "finledger/internal/log"
	"finledger/internal/scheduler"
)

func main() {
	cfg, domain, logger := cli.Bootstrap(applog.ComponentApp)
	if err := run(cfg, domain, logger); err != nil {
		logger.Error("finledger stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, domain *config.Domain, logger *applog.Logger) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	pipeline, err := cli.BuildPipeline(ctx, cfg, domain, logger, cli.PipelineOptions{Intake: true})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sender, closeSender, err := cli.NewSender(cfg)
		if err != nil {
			return err
		}
		defer closeSender()

		sched, err = cli.NewScheduler(ctx, cfg, domain, pipeline, sender)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		logger.Info("Report scheduler started",
			"schedules", len(sched.Schedules()),
			"delivery", cfg.DeliveryMode)
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Location:           domain.Location(),
		Logger:             logger,
	}, pipeline.Intake, pipeline.Reports)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting finledger server", "port", cfg.Port, "backend", cfg.DataBackend)
		serveErr <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", applog.FieldError, err)
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("Scheduler did not drain before timeout", applog.FieldError, err)
		}
	}
	logger.Info("Server stopped gracefully")
	return runErr
}

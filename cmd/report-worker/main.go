package main

import (
	"context"
	"flag"
	"os"
	"time"

	"finledger/internal/cli"
	"finledger/internal/config"
	applog "finledger/internal/log"
)

func main() {
	once := flag.Bool("once", false, "run every due schedule once and exit")
	flag.Parse()

	cfg, domain, logger := cli.Bootstrap(applog.ComponentScheduler)
	if err := run(cfg, domain, logger, *once); err != nil {
		logger.Error("report-worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, domain *config.Domain, logger *applog.Logger, once bool) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	pipeline, err := cli.BuildPipeline(ctx, cfg, domain, logger, cli.PipelineOptions{})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	sender, closeSender, err := cli.NewSender(cfg)
	if err != nil {
		return err
	}
	defer closeSender()

	sched, err := cli.NewScheduler(ctx, cfg, domain, pipeline, sender)
	if err != nil {
		return err
	}

	if once {
		outcomes, err := sched.RunDue(ctx, time.Now())
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			logger.Info("Schedule run",
				"user", o.Schedule.User,
				applog.FieldPeriodKind, o.Schedule.Period,
				applog.FieldRange, o.Range.String(),
				"state", o.State.String(),
				applog.FieldAttempt, o.Attempts)
		}
		return nil
	}

	logger.Info("Starting report worker",
		"schedules", len(sched.Schedules()),
		"delivery", cfg.DeliveryMode,
		"interval", cfg.SchedulerInterval)
	sched.Start(ctx)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout reached", applog.FieldError, err)
	}
	logger.Info("Report worker shutdown complete")
	return nil
}

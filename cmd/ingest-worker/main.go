package main

import (
	"context"
	"errors"
	"os"

	"finledger/internal/amqp"
	"finledger/internal/cli"
	"finledger/internal/config"
	applog "finledger/internal/log"
	"finledger/internal/worker"
)

// maxExtractAttempts bounds redeliveries of a document whose extraction
// keeps failing.
const maxExtractAttempts = 3

func main() {
	cfg, domain, logger := cli.Bootstrap(applog.ComponentWorker)
	if err := run(cfg, domain, logger); err != nil {
		logger.Error("ingest-worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, domain *config.Domain, logger *applog.Logger) error {
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the ingest worker")
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	pipeline, err := cli.BuildPipeline(ctx, cfg, domain, logger, cli.PipelineOptions{Intake: true})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPIntakeQueue)
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Info("Starting ingest worker",
		"queue", cfg.AMQPIntakeQueue,
		"backend", cfg.DataBackend)

	err = worker.NewIngestWorker(pipeline.Intake, maxExtractAttempts).Run(ctx, client)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Worker shutdown complete")
	return nil
}

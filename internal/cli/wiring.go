package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finledger/internal/amqp"
	"finledger/internal/archive"
	"finledger/internal/backend"
	"finledger/internal/cache"
	"finledger/internal/config"
	"finledger/internal/delivery"
	"finledger/internal/extraction"
	"finledger/internal/gemini"
	applog "finledger/internal/log"
	"finledger/internal/report"
	"finledger/internal/retry"
	"finledger/internal/scheduler"
	"finledger/internal/services"
	"finledger/internal/storage"
	"finledger/internal/validation"
)

// Pipeline holds the components built from configuration. Close releases
// them in reverse order of creation.
type Pipeline struct {
	Store   *backend.Result
	Reports *report.Builder
	// Intake is nil unless the pipeline was built with intake enabled.
	Intake *services.IntakeService

	closers []func() error
}

type PipelineOptions struct {
	Intake bool
	// Extractor replaces the Gemini extractor, mainly for tests.
	Extractor services.Extractor
}

// StorePolicy is the retry policy for transient ledger failures.
func StorePolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.StoreRetryAttempts,
		BaseDelay:   cfg.StoreRetryBaseDelay,
		MaxDelay:    8 * cfg.StoreRetryBaseDelay,
	}
}

// BuildPipeline opens the ledger store and builds the report builder and,
// when requested, the document intake service.
func BuildPipeline(ctx context.Context, cfg *config.Config, domain *config.Domain, logger *applog.Logger, opts PipelineOptions) (*Pipeline, error) {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Store: store, closers: []func() error{store.Close}}

	limits, err := domain.BudgetLimits()
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Reports = report.NewBuilder(store.Store, limits, domain.DefaultCurrency, report.WithReadRetry(StorePolicy(cfg)))

	if opts.Intake {
		if err := p.buildIntake(ctx, cfg, domain, logger, opts.Extractor); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Pipeline) buildIntake(ctx context.Context, cfg *config.Config, domain *config.Domain, logger *applog.Logger, extractor services.Extractor) error {
	if extractor == nil {
		if cfg.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for document intake")
		}
		ex, err := gemini.NewExtractor(ctx, gemini.Config{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			Categories: domain.Categories,
		})
		if err != nil {
			return fmt.Errorf("create extractor: %w", err)
		}
		extractor = ex
	}

	var archiver services.Archiver
	if cfg.GCSBucket != "" {
		gcs, err := archive.NewGCSArchiver(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return fmt.Errorf("create archiver: %w", err)
		}
		p.closers = append(p.closers, gcs.Close)
		archiver = gcs
		logger.InfoContext(ctx, "Document archive enabled", "bucket", cfg.GCSBucket)
	}

	extractions := cache.NewLRUCache[string](cfg.ExtractionCacheSize, cfg.ExtractionCacheTTL)
	caches := cache.NewManager()
	caches.Register(extractions)
	caches.StartCleanup(10 * time.Minute)
	p.closers = append(p.closers, func() error { caches.Stop(); return nil })

	intake, err := services.NewIntakeService(services.IntakeDeps{
		Extractor: extractor,
		Archiver:  archiver,
		Cache:     extractions,
		Normalizer: extraction.NewNormalizer(extraction.Options{
			DefaultCurrency:     domain.DefaultCurrency,
			DayFirst:            domain.DayFirst,
			KnownMerchants:      domain.KnownMerchants,
			MerchantMaxDistance: domain.MerchantMaxDistance,
		}),
		Validator: validation.NewValidator(validation.Rules{
			Categories:          domain.Categories,
			Limits:              domain,
			FutureToleranceDays: domain.Validation.FutureToleranceDays,
			MaxAgeDays:          domain.Validation.MaxAgeDays,
			Location:            domain.Location(),
		}),
		Reconciler:       services.NewReconciler(p.Store.Store, services.WithStoreRetry(StorePolicy(cfg))),
		DedupGranularity: domain.Dedup.Granularity,
	})
	if err != nil {
		return err
	}
	p.Intake = intake
	return nil
}

// Close releases everything the pipeline opened.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// NewSender returns the delivery sender selected by DELIVERY_MODE and a
// function releasing its resources.
func NewSender(cfg *config.Config) (delivery.Sender, func() error, error) {
	noop := func() error { return nil }
	switch cfg.DeliveryMode {
	case "smtp":
		return delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}), noop, nil
	case "amqp":
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPDeliveryQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("connect delivery queue: %w", err)
		}
		return delivery.NewAMQPSender(client), client.Close, nil
	case "log", "":
		return delivery.LogSender{}, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown delivery mode %q", cfg.DeliveryMode)
	}
}

var _ scheduler.RunStore = (*storage.SQLiteRepository)(nil)

// NewScheduler builds the report scheduler over the pipeline's reports and
// registers every configured schedule. Run markers live in the ledger
// database when it is SQLite, otherwise in SCHEDULER_STATE_DB.
func NewScheduler(ctx context.Context, cfg *config.Config, domain *config.Domain, p *Pipeline, sender delivery.Sender) (*scheduler.Scheduler, error) {
	runs, err := p.scheduleRuns(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := scheduler.New(p.Reports, sender,
		scheduler.WithDeliveryPolicy(retry.Policy{
			MaxAttempts: cfg.DeliveryMaxAttempts,
			BaseDelay:   cfg.DeliveryBaseDelay,
			MaxDelay:    cfg.DeliveryMaxDelay,
		}),
		scheduler.WithLocation(domain.Location()),
		scheduler.WithInterval(cfg.SchedulerInterval),
		scheduler.WithRunStore(runs),
	)
	schedules, err := scheduler.SchedulesFromConfig(domain.Schedules)
	if err != nil {
		return nil, err
	}
	for _, sched := range schedules {
		if err := s.Add(ctx, sched); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *Pipeline) scheduleRuns(ctx context.Context, cfg *config.Config) (scheduler.RunStore, error) {
	if repo, ok := p.Store.Store.(*storage.SQLiteRepository); ok {
		return repo, nil
	}
	if cfg.SchedulerStateDB == "" {
		slog.WarnContext(ctx, "Schedule run markers are kept in memory; a restart may repeat reports",
			applog.FieldComponent, applog.ComponentScheduler)
		return scheduler.NewMemoryRuns(), nil
	}
	repo, err := storage.NewSQLiteRepository(cfg.SchedulerStateDB)
	if err != nil {
		return nil, fmt.Errorf("open scheduler state: %w", err)
	}
	p.closers = append(p.closers, repo.Close)
	return repo, nil
}

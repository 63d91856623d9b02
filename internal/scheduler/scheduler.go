// Package scheduler triggers recurring reports and delivers them with a
// bounded retry policy.
//
// The Scheduler is a process-wide registry of schedules keyed by user and
// period kind. It is populated from configuration at startup and torn down
// with Stop, which refuses new triggers and drains the ones in flight.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"finledger/internal/config"
	"finledger/internal/core"
	"finledger/internal/delivery"
	applog "finledger/internal/log"
	"finledger/internal/report"
	"finledger/internal/retry"
)

// ErrStopped is returned when triggering a scheduler that has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// ReportBuilder computes a report for a request.
type ReportBuilder interface {
	Build(ctx context.Context, req core.ReportRequest) (*report.Report, error)
}

// Schedule is one recurring report.
type Schedule struct {
	User          string
	Period        core.PeriodKind
	Recipients    []string
	Grouping      core.Grouping
	IncludeBudget bool
	// Hour is the local hour from which a due report may fire.
	Hour int
}

type key struct {
	user   string
	period core.PeriodKind
}

func (s Schedule) key() key { return key{s.User, s.Period} }

func (s Schedule) Validate() error {
	if s.User == "" {
		return errors.New("schedule has no user")
	}
	if _, err := GetDuenessChecker(s.Period); err != nil {
		return err
	}
	if len(s.Recipients) == 0 {
		return fmt.Errorf("schedule %s/%s has no recipients", s.User, s.Period)
	}
	if s.Grouping != "" && !s.Grouping.IsValid() {
		return fmt.Errorf("schedule %s/%s: invalid grouping %q", s.User, s.Period, s.Grouping)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("schedule %s/%s: hour %d out of range", s.User, s.Period, s.Hour)
	}
	return nil
}

// SchedulesFromConfig converts configured schedule entries.
func SchedulesFromConfig(entries []config.ScheduleEntry) ([]Schedule, error) {
	out := make([]Schedule, 0, len(entries))
	for _, e := range entries {
		s := Schedule{
			User:          e.User,
			Period:        core.PeriodKind(e.Period),
			Recipients:    e.Recipients,
			Grouping:      core.Grouping(e.Grouping),
			IncludeBudget: e.IncludeBudget,
			Hour:          e.Hour,
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type entry struct {
	schedule Schedule
	checker  DuenessChecker
	lastRun  time.Time
}

// Outcome describes one finished trigger.
type Outcome struct {
	Schedule Schedule
	Range    core.DateRange
	ReportID string
	State    retry.State
	Attempts int
	Err      error
}

// Scheduler owns the schedule registry and its ticker loop.
type Scheduler struct {
	builder     ReportBuilder
	sender      delivery.Sender
	policy      retry.Policy
	loc         *time.Location
	interval    time.Duration
	concurrency int
	runs        RunStore
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error

	mu      sync.Mutex
	entries map[key]*entry
	stopped bool

	inflight sync.WaitGroup
	stopCh   chan struct{}
	loopDone chan struct{}
	started  bool
}

type Option func(*Scheduler)

// WithDeliveryPolicy sets the retry policy applied to each delivery.
func WithDeliveryPolicy(p retry.Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithLocation sets the timezone in which period boundaries and trigger
// hours are evaluated.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithConcurrency bounds how many due triggers of one tick run at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.concurrency = n }
}

// WithRunStore sets where last-run markers are kept. The default keeps
// them in memory.
func WithRunStore(runs RunStore) Option {
	return func(s *Scheduler) {
		if runs != nil {
			s.runs = runs
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

func New(builder ReportBuilder, sender delivery.Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		builder:     builder,
		sender:      sender,
		policy:      retry.Policy{MaxAttempts: 5, BaseDelay: 30 * time.Second, MaxDelay: 10 * time.Minute},
		loc:         time.UTC,
		interval:    time.Minute,
		concurrency: 4,
		runs:        NewMemoryRuns(),
		now:         time.Now,
		entries:     make(map[key]*entry),
		stopCh:      make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// Add registers or replaces the schedule for (User, Period). Its last-run
// marker comes from the run store; a schedule that never fired is due as
// soon as its hour has passed.
func (s *Scheduler) Add(ctx context.Context, sched Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	checker, _ := GetDuenessChecker(sched.Period)
	lastRun, found, err := s.runs.LastRun(ctx, sched.User, sched.Period)
	if err != nil {
		return fmt.Errorf("load last run of %s/%s: %w", sched.User, sched.Period, err)
	}
	if found {
		lastRun = lastRun.In(s.loc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	e := &entry{schedule: sched, checker: checker, lastRun: lastRun}
	if prev, ok := s.entries[sched.key()]; ok && prev.lastRun.After(lastRun) {
		e.lastRun = prev.lastRun
	}
	s.entries[sched.key()] = e

	slog.InfoContext(ctx, "Schedule registered",
		applog.FieldComponent, applog.ComponentScheduler,
		"user", sched.User,
		applog.FieldPeriodKind, sched.Period,
		"hour", sched.Hour,
		"recipients", len(sched.Recipients),
		"last_run", e.lastRun)
	return nil
}

// Remove drops a schedule. A trigger already running is not interrupted.
func (s *Scheduler) Remove(user string, period core.PeriodKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{user, period}
	if _, ok := s.entries[k]; !ok {
		return false
	}
	delete(s.entries, k)
	return true
}

// Schedules lists registered schedules ordered by user then period.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	out := make([]Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.schedule)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Schedule) int {
		return cmp.Or(cmp.Compare(a.User, b.User), cmp.Compare(a.Period, b.Period))
	})
	return out
}

// claimDue selects the schedules due at now and advances their markers, so
// a trigger is claimed exactly once whatever its outcome. The caller
// persists the new markers.
func (s *Scheduler) claimDue(now time.Time) ([]Schedule, error) {
	local := now.In(s.loc)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}
	var due []Schedule
	for _, e := range s.entries {
		if isDue(e.checker, e.lastRun, local, e.schedule.Hour) {
			e.lastRun = local
			due = append(due, e.schedule)
		}
	}
	if len(due) > 0 {
		s.inflight.Add(1)
	}
	return due, nil
}

// RunDue fires every schedule due at now and waits for them to finish.
// Triggers are detached from ctx cancellation once claimed: a report
// either completes, retries included, or is never started.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) ([]Outcome, error) {
	due, err := s.claimDue(now)
	if err != nil || len(due) == 0 {
		return nil, err
	}
	defer s.inflight.Done()

	runCtx := context.WithoutCancel(ctx)
	today := report.Today(now, s.loc)
	local := now.In(s.loc)
	for _, sched := range due {
		// Delivery proceeds even when the marker is not persisted.
		if err := s.runs.SaveRun(runCtx, sched.User, sched.Period, local); err != nil {
			slog.ErrorContext(runCtx, "Failed to persist schedule run",
				applog.FieldComponent, applog.ComponentScheduler,
				"user", sched.User,
				applog.FieldPeriodKind, sched.Period,
				applog.FieldError, err)
		}
	}
	outcomes := make([]Outcome, len(due))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, sched := range due {
		g.Go(func() error {
			outcomes[i] = s.trigger(runCtx, sched, today)
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(outcomes, func(a, b Outcome) int {
		return cmp.Or(cmp.Compare(a.Schedule.User, b.Schedule.User), cmp.Compare(a.Schedule.Period, b.Schedule.Period))
	})
	return outcomes, nil
}

func (s *Scheduler) trigger(ctx context.Context, sched Schedule, today core.Date) Outcome {
	out := Outcome{Schedule: sched, State: retry.Pending}
	logger := slog.With(
		applog.FieldComponent, applog.ComponentScheduler,
		"user", sched.User,
		applog.FieldPeriodKind, sched.Period)

	rng, err := report.PreviousPeriod(sched.Period, today)
	if err != nil {
		return s.missed(ctx, logger, out, err)
	}
	out.Range = rng

	req := core.ReportRequest{
		PeriodKind:    sched.Period,
		Range:         rng,
		Grouping:      sched.Grouping,
		IncludeBudget: sched.IncludeBudget,
		RequestedBy:   sched.User,
	}
	rep, err := s.builder.Build(ctx, req)
	if err != nil {
		return s.missed(ctx, logger, out, fmt.Errorf("build report: %w", err))
	}
	out.ReportID = rep.ID
	logger = logger.With(applog.FieldReportID, rep.ID, applog.FieldRange, rng.String())

	payload, err := delivery.NewPayload(rep)
	if err != nil {
		return s.missed(ctx, logger, out, err)
	}

	opts := []retry.Option{
		retry.WithRetryable(func(err error) bool { return !errors.Is(err, delivery.ErrPermanent) }),
		retry.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			logger.WarnContext(ctx, "Report delivery failed, retrying",
				applog.FieldOperation, applog.OpDeliver,
				applog.FieldAttempt, attempt,
				"wait", wait,
				applog.FieldError, err)
		}),
	}
	if s.sleep != nil {
		opts = append(opts, retry.WithSleep(s.sleep))
	}
	m, err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.sender.Send(ctx, payload, sched.Recipients)
	}, opts...)
	out.State, out.Attempts = m.State(), m.Attempts()
	if err != nil {
		return s.missed(ctx, logger, out, err)
	}

	logger.InfoContext(ctx, "Report delivered",
		applog.FieldAttempt, out.Attempts,
		"recipients", len(sched.Recipients))
	return out
}

func (s *Scheduler) missed(ctx context.Context, logger *slog.Logger, out Outcome, err error) Outcome {
	out.State = retry.Abandoned
	out.Err = err
	logger.ErrorContext(ctx, "Missed report",
		applog.FieldAttempt, out.Attempts,
		applog.FieldError, err)
	return out
}

// Start runs the ticker loop until Stop. The first check happens
// immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	slog.InfoContext(ctx, "Scheduler started",
		applog.FieldComponent, applog.ComponentScheduler,
		"interval", s.interval,
		"schedules", len(s.Schedules()))

	go func() {
		defer close(s.loopDone)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if _, err := s.RunDue(ctx, s.now()); errors.Is(err, ErrStopped) {
				return
			}
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop prevents new triggers and waits for in-flight ones to finish or
// for ctx to end. It is safe to call more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	started := s.started
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if started {
			<-s.loopDone
		}
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "Scheduler stopped",
			applog.FieldComponent, applog.ComponentScheduler,
			applog.FieldOperation, applog.OpShutdown)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Scheduler stop timed out with triggers in flight",
			applog.FieldComponent, applog.ComponentScheduler,
			applog.FieldOperation, applog.OpShutdown)
		return ctx.Err()
	}
}

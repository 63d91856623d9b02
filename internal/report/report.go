// Package report turns a ReportRequest into a rendered aggregate report.
package report

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"finledger/internal/analysis"
	"finledger/internal/core"
	"finledger/internal/ledger"
	applog "finledger/internal/log"
	"finledger/internal/retry"
)

// TopMerchantCount bounds the merchant summary attached to non-merchant
// reports.
const TopMerchantCount = 5

// MaxTrendDays bounds how many days the text and HTML renderers list; the
// daily averages are always shown.
const MaxTrendDays = 31

// Report is a fully computed, render-ready report. All figures come from
// a single ledger snapshot.
type Report struct {
	ID          string
	Request     core.ReportRequest
	Title       string
	GeneratedAt time.Time
	RecordCount int
	Groups      []analysis.Group
	// Totals holds one entry per currency, ordered by currency code.
	Totals       []core.Money
	TopMerchants []analysis.Group
	// BudgetMonth is the YYYY-MM whose limits Budget was checked against.
	BudgetMonth string
	Budget      []analysis.BudgetStatus
	// Trend is the zero-filled daily spending per currency.
	Trend []analysis.Series
}

// Builder computes reports over a ledger.
type Builder struct {
	reader   ledger.RangeReader
	limits   []core.BudgetLimit
	currency string
	policy   retry.Policy
	now      func() time.Time
	newID    func() string
}

type BuilderOption func(*Builder)

func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithReadRetry sets the retry policy for transient snapshot read failures.
func WithReadRetry(p retry.Policy) BuilderOption {
	return func(b *Builder) { b.policy = p }
}

func withIDs(fn func() string) BuilderOption {
	return func(b *Builder) { b.newID = fn }
}

// NewBuilder creates a Builder. currency labels zero groups of empty
// reports.
func NewBuilder(reader ledger.RangeReader, limits []core.BudgetLimit, currency string, opts ...BuilderOption) *Builder {
	b := &Builder{
		reader:   reader,
		limits:   limits,
		currency: currency,
		policy:   retry.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build reads one snapshot for req.Range and derives every figure of the
// report from it. An empty range yields a valid report of zero groups.
func (b *Builder) Build(ctx context.Context, req core.ReportRequest) (*Report, error) {
	if req.Grouping == "" {
		req.Grouping = core.GroupByCategory
	}
	if req.PeriodKind == "" {
		req.PeriodKind = core.PeriodCustom
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report request: %w", err)
	}

	var snapshot []core.TransactionRecord
	_, err := retry.Do(ctx, b.policy, func(ctx context.Context) error {
		var err error
		snapshot, err = b.reader.ReadRange(ctx, req.Range)
		return err
	},
		retry.WithRetryable(func(err error) bool { return errors.Is(err, core.ErrStorageUnavailable) }),
		retry.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			slog.WarnContext(ctx, "Ledger read failed, retrying",
				applog.FieldComponent, applog.ComponentReport,
				applog.FieldOperation, applog.OpReadRange,
				applog.FieldAttempt, attempt,
				"wait", wait,
				applog.FieldError, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", req.Range, err)
	}

	query := analysis.Query{
		Range:      req.Range,
		Grouping:   req.Grouping,
		Categories: req.Categories,
		Currency:   b.currency,
	}
	r := &Report{
		ID:          b.newID(),
		Request:     req,
		Title:       Title(req.PeriodKind, req.Range),
		GeneratedAt: b.now(),
		RecordCount: countInRange(snapshot, query),
		Groups:      analysis.Aggregate(snapshot, query),
	}
	r.Totals = totals(r.Groups)
	r.Trend = analysis.DailySeries(snapshot, query)

	if req.Grouping != core.GroupByMerchant {
		query.Grouping = core.GroupByMerchant
		top := analysis.Aggregate(snapshot, query)
		r.TopMerchants = top[:min(len(top), TopMerchantCount)]
	}

	if req.IncludeBudget {
		r.BudgetMonth = req.Range.Start.MonthKey()
		query.Grouping = core.GroupByCategory
		r.Budget = analysis.TrackBudget(analysis.Aggregate(snapshot, query), b.limits, r.BudgetMonth)
	}

	slog.InfoContext(ctx, "Report built",
		applog.FieldComponent, applog.ComponentReport,
		applog.FieldReportID, r.ID,
		applog.FieldPeriodKind, req.PeriodKind,
		applog.FieldRange, req.Range.String(),
		"records", r.RecordCount,
		"groups", len(r.Groups))
	return r, nil
}

func countInRange(snapshot []core.TransactionRecord, q analysis.Query) int {
	n := 0
	for _, g := range analysis.Aggregate(snapshot, analysis.Query{Range: q.Range, Grouping: core.GroupByNone, Categories: q.Categories}) {
		n += g.Count
	}
	return n
}

func totals(groups []analysis.Group) []core.Money {
	var out []core.Money
	for currency, sum := range analysis.Totals(groups) {
		out = append(out, core.Money{Minor: sum, Currency: currency})
	}
	slices.SortFunc(out, func(a, b core.Money) int { return cmp.Compare(a.Currency, b.Currency) })
	return out
}

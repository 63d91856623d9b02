package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodWeekly  PeriodKind = "weekly"
	PeriodMonthly PeriodKind = "monthly"
	PeriodCustom  PeriodKind = "custom"
)

const (
	GroupByCategory Grouping = "category"
	GroupByMerchant Grouping = "merchant"
	GroupByNone     Grouping = "none"
)

const (
	FlagRefund          Flag = "refund"
	FlagCategoryCoerced Flag = "category_coerced"
)

// Uncategorized is the category assigned when the extracted label is not
// part of the configured set.
const Uncategorized = "UNCATEGORIZED"

type (
	PeriodKind string
	Grouping   string
	Flag       string

	Date struct {
		time.Time
	}

	// DateRange is inclusive on both ends.
	DateRange struct {
		Start Date
		End   Date
	}

	// CandidateRecord is the normalizer's output: typed fields that have not
	// yet been checked against business rules.
	CandidateRecord struct {
		Date          Date
		Merchant      string
		Amount        Money
		Category      string
		Refund        bool
		SourceHash    string
		SubmittedBy   string
		RawExtraction string
	}

	// ValidatedRecord is a candidate that passed validation, possibly with
	// its category coerced.
	ValidatedRecord struct {
		Date          Date
		Merchant      string
		Amount        Money
		Category      string
		Flags         []Flag
		SourceHash    string
		SubmittedBy   string
		RawExtraction string
	}

	// TransactionRecord is one row of the ledger. ID and IngestedAt are set
	// by the reconciler and never change afterwards.
	TransactionRecord struct {
		ID            int64
		SourceHash    string
		Date          Date
		Merchant      string
		Amount        Money
		Category      string
		Flags         []Flag
		RawExtraction string
		IngestedAt    time.Time
		SubmittedBy   string
	}

	BudgetLimit struct {
		Category string
		Period   string // YYYY-MM, empty applies to every month
		Limit    Money
	}

	ReportRequest struct {
		PeriodKind    PeriodKind
		Range         DateRange
		Grouping      Grouping
		Categories    []string
		IncludeBudget bool
		RequestedBy   string
	}
)

var (
	ErrInvalidDay        = errors.New("invalid day")
	ErrInvalidMonth      = errors.New("invalid month")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrInvalidRange      = errors.New("invalid date range")
	ErrInvalidPeriodKind = errors.New("invalid period kind")
	ErrInvalidGrouping   = errors.New("invalid grouping")
	ErrInvalidPeriod     = errors.New("invalid budget period")
	ErrEmptyMerchant     = errors.New("empty merchant")
	ErrEmptyCategory     = errors.New("empty category")
	ErrEmptySubmitter    = errors.New("empty submitter")
	ErrEmptySourceHash   = errors.New("empty source hash")

	// ErrStorageUnavailable marks a transient ledger store failure. Backends
	// wrap it so callers can decide to retry with errors.Is.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock part of t, keeping its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidDate)
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

// MonthKey returns the YYYY-MM budget period containing d.
func (d Date) MonthKey() string {
	return d.Format("2006-01")
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }

func (r DateRange) Validate() error {
	if err := r.Start.Validate(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	if err := r.End.Validate(); err != nil {
		return fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, r.End, r.Start)
	}
	return nil
}

// Contains reports whether d lies within the range, both ends included.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

func (p PeriodKind) IsValid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodCustom:
		return true
	}
	return false
}

func (g Grouping) IsValid() bool {
	switch g {
	case GroupByCategory, GroupByMerchant, GroupByNone:
		return true
	}
	return false
}

// FoldMerchant returns the comparison key for a merchant name: trimmed,
// inner whitespace collapsed and Unicode case folded.
func FoldMerchant(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// MerchantKey returns the case-folded merchant used for grouping.
func (r TransactionRecord) MerchantKey() string {
	return FoldMerchant(r.Merchant)
}

func (r TransactionRecord) HasFlag(f Flag) bool {
	for _, v := range r.Flags {
		if v == f {
			return true
		}
	}
	return false
}

func (c CandidateRecord) Validate() error {
	if err := c.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Merchant) == "" {
		return ErrEmptyMerchant
	}
	if err := c.Amount.ValidateCurrency(); err != nil {
		return err
	}
	if strings.TrimSpace(c.SourceHash) == "" {
		return ErrEmptySourceHash
	}
	if strings.TrimSpace(c.SubmittedBy) == "" {
		return ErrEmptySubmitter
	}
	return nil
}

// Validate checks the structural invariants every stored row must satisfy.
func (r TransactionRecord) Validate() error {
	if err := r.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Merchant) == "" {
		return ErrEmptyMerchant
	}
	if err := r.Amount.ValidateCurrency(); err != nil {
		return err
	}
	if r.Amount.Minor == 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(r.SourceHash) == "" {
		return ErrEmptySourceHash
	}
	if strings.TrimSpace(r.SubmittedBy) == "" {
		return ErrEmptySubmitter
	}
	return nil
}

func (b BudgetLimit) Validate() error {
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if b.Period != "" {
		if _, err := time.Parse("2006-01", b.Period); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPeriod, b.Period)
		}
	}
	if b.Limit.Minor < 0 {
		return fmt.Errorf("%w: negative budget limit", ErrInvalidAmount)
	}
	return b.Limit.ValidateCurrency()
}

// AppliesTo reports whether the limit covers the given YYYY-MM month.
func (b BudgetLimit) AppliesTo(month string) bool {
	return b.Period == "" || b.Period == month
}

func (rr ReportRequest) Validate() error {
	if !rr.PeriodKind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPeriodKind, rr.PeriodKind)
	}
	if !rr.Grouping.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidGrouping, rr.Grouping)
	}
	return rr.Range.Validate()
}

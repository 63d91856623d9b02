// Package validation checks candidate records against the ledger's business
// rules before they are reconciled.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"finledger/internal/core"
)

// AmountLimits supplies the largest accepted absolute amount per currency.
// *config.Domain satisfies it.
type AmountLimits interface {
	MaxAmountMinor(currency string) (int64, error)
}

// Rules configures a Validator.
type Rules struct {
	Categories          []string
	Limits              AmountLimits
	FutureToleranceDays int
	MaxAgeDays          int
	// Location decides which calendar day is today. Nil means UTC.
	Location *time.Location
}

// Result is a tagged value: exactly one of Record or Failure is set.
type Result struct {
	Record  core.ValidatedRecord
	Failure *core.ValidationFailure
}

func (r Result) OK() bool {
	return r.Failure == nil
}

// Validator is safe for concurrent use; it holds no mutable state beyond
// its clock.
type Validator struct {
	categories map[string]string // folded -> configured label
	limits     AmountLimits
	future     int
	maxAge     int
	loc        *time.Location
	now        func() time.Time
}

// Option customizes a Validator.
type Option func(*Validator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

func NewValidator(rules Rules, opts ...Option) *Validator {
	v := &Validator{
		categories: make(map[string]string, len(rules.Categories)),
		limits:     rules.Limits,
		future:     rules.FutureToleranceDays,
		maxAge:     rules.MaxAgeDays,
		loc:        rules.Location,
		now:        time.Now,
	}
	if v.loc == nil {
		v.loc = time.UTC
	}
	for _, c := range rules.Categories {
		v.categories[strings.ToLower(strings.TrimSpace(c))] = c
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate applies the amount, date and category rules to c. Unknown
// categories do not fail validation; they are coerced to UNCATEGORIZED and
// flagged.
func (v *Validator) Validate(c core.CandidateRecord) Result {
	if err := c.Validate(); err != nil {
		return reject(structuralReason(err), err.Error())
	}

	if f := v.checkAmount(c); f != nil {
		return Result{Failure: f}
	}
	if f := v.checkDate(c.Date); f != nil {
		return Result{Failure: f}
	}

	rec := core.ValidatedRecord{
		Date:          c.Date,
		Merchant:      strings.Join(strings.Fields(c.Merchant), " "),
		Amount:        c.Amount,
		SourceHash:    c.SourceHash,
		SubmittedBy:   c.SubmittedBy,
		RawExtraction: c.RawExtraction,
	}
	if c.Refund {
		rec.Flags = append(rec.Flags, core.FlagRefund)
	}
	if label, ok := v.categories[strings.ToLower(strings.TrimSpace(c.Category))]; ok {
		rec.Category = label
	} else {
		rec.Category = core.Uncategorized
		if !strings.EqualFold(strings.TrimSpace(c.Category), core.Uncategorized) {
			rec.Flags = append(rec.Flags, core.FlagCategoryCoerced)
		}
	}
	return Result{Record: rec}
}

func (v *Validator) checkAmount(c core.CandidateRecord) *core.ValidationFailure {
	minor := c.Amount.Minor
	switch {
	case minor == 0:
		return failure(core.ReasonAmountOutOfRange, "amount is zero")
	case minor < 0 && !c.Refund:
		return failure(core.ReasonAmountOutOfRange, fmt.Sprintf("negative amount %s without refund marker", c.Amount))
	}
	if v.limits == nil {
		return nil
	}
	limit, err := v.limits.MaxAmountMinor(c.Amount.Currency)
	if err != nil {
		return failure(core.ReasonAmountOutOfRange, err.Error())
	}
	abs := minor
	if abs < 0 {
		abs = -abs
	}
	if abs > limit {
		ceiling := core.Money{Minor: limit, Currency: c.Amount.Currency}
		return failure(core.ReasonAmountOutOfRange, fmt.Sprintf("%s exceeds %s", c.Amount, ceiling))
	}
	return nil
}

func (v *Validator) checkDate(d core.Date) *core.ValidationFailure {
	today := core.DateOf(v.now().In(v.loc))
	latest := today.AddDays(v.future)
	if d.After(latest) {
		return failure(core.ReasonDateOutOfTolerance, fmt.Sprintf("%s is after %s", d, latest))
	}
	if v.maxAge > 0 {
		earliest := today.AddDays(-v.maxAge)
		if d.Before(earliest) {
			return failure(core.ReasonDateOutOfTolerance, fmt.Sprintf("%s is before %s", d, earliest))
		}
	}
	return nil
}

// structuralReason maps a malformed candidate onto the closest rule. The
// normalizer never emits one, so this only guards hand-built candidates.
func structuralReason(err error) core.FailureReason {
	switch {
	case errors.Is(err, core.ErrEmptyMerchant):
		return core.ReasonAmbiguousMerchant
	case errors.Is(err, core.ErrInvalidDay), errors.Is(err, core.ErrInvalidMonth), errors.Is(err, core.ErrInvalidDate):
		return core.ReasonDateOutOfTolerance
	default:
		return core.ReasonAmountOutOfRange
	}
}

func failure(reason core.FailureReason, detail string) *core.ValidationFailure {
	return &core.ValidationFailure{Reason: reason, Detail: detail}
}

func reject(reason core.FailureReason, detail string) Result {
	return Result{Failure: failure(reason, detail)}
}

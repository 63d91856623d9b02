package analysis

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"finledger/internal/core"
)

type BudgetState string

const (
	BudgetUnder       BudgetState = "under"
	BudgetNear        BudgetState = "near"
	BudgetOver        BudgetState = "over"
	BudgetUnmonitored BudgetState = "unmonitored"
)

// Thresholds in percent of the limit. Near covers [NearPercent, 100].
const (
	NearPercent = 80
	FullPercent = 100
)

// BudgetStatus compares one category's spending with its limit.
type BudgetStatus struct {
	Category string
	Actual   core.Money
	// Limit is nil for unmonitored categories.
	Limit *core.Money
	// Percent is actual/limit rounded to two decimals; zero when
	// unmonitored or the limit is zero.
	Percent decimal.Decimal
	State   BudgetState
}

// Remaining is limit minus actual, negative when over budget.
func (s BudgetStatus) Remaining() (core.Money, bool) {
	if s.Limit == nil {
		return core.Money{}, false
	}
	return core.Money{Minor: s.Limit.Minor - s.Actual.Minor, Currency: s.Limit.Currency}, true
}

// TrackBudget classifies category groups of one month against limits.
// groups must come from a GroupByCategory aggregation. Every category in
// groups appears in the result; categories that have a limit for month but
// no spending appear with zero actual.
func TrackBudget(groups []Group, limits []core.BudgetLimit, month string) []BudgetStatus {
	active := ActiveLimits(limits, month)

	var out []BudgetStatus
	seen := map[groupKey]bool{}
	for _, g := range groups {
		actual := core.Money{Minor: g.Sum, Currency: g.Currency}
		lim, ok := active[strings.ToLower(g.Label)]
		if !ok || lim.Limit.Currency != g.Currency {
			out = append(out, BudgetStatus{Category: g.Label, Actual: actual, State: BudgetUnmonitored})
			continue
		}
		seen[groupKey{strings.ToLower(g.Label), g.Currency}] = true
		out = append(out, classify(g.Label, actual, lim.Limit))
	}
	for key, lim := range active {
		if seen[groupKey{key, lim.Limit.Currency}] {
			continue
		}
		out = append(out, classify(lim.Category, core.Money{Currency: lim.Limit.Currency}, lim.Limit))
	}

	slices.SortFunc(out, func(a, b BudgetStatus) int {
		if c := cmp.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return cmp.Compare(a.Actual.Currency, b.Actual.Currency)
	})
	return out
}

// ActiveLimits picks, per category, the limit that applies to month. A
// limit for that exact month overrides an every-month limit.
func ActiveLimits(limits []core.BudgetLimit, month string) map[string]core.BudgetLimit {
	out := map[string]core.BudgetLimit{}
	for _, l := range limits {
		if !l.AppliesTo(month) {
			continue
		}
		key := strings.ToLower(l.Category)
		if cur, ok := out[key]; ok && cur.Period != "" && l.Period == "" {
			continue
		}
		out[key] = l
	}
	return out
}

// Classify applies the thresholds in exact arithmetic:
// under < 80% <= near <= 100% < over.
func Classify(actual, limit int64) BudgetState {
	if limit == 0 {
		if actual > 0 {
			return BudgetOver
		}
		return BudgetUnder
	}
	a := decimal.NewFromInt(actual).Mul(decimal.NewFromInt(100))
	l := decimal.NewFromInt(limit)
	switch {
	case a.LessThan(l.Mul(decimal.NewFromInt(NearPercent))):
		return BudgetUnder
	case a.LessThanOrEqual(l.Mul(decimal.NewFromInt(FullPercent))):
		return BudgetNear
	default:
		return BudgetOver
	}
}

func classify(category string, actual, limit core.Money) BudgetStatus {
	st := BudgetStatus{
		Category: category,
		Actual:   actual,
		Limit:    &limit,
		State:    Classify(actual.Minor, limit.Minor),
	}
	if limit.Minor != 0 {
		st.Percent = decimal.NewFromInt(actual.Minor).Mul(decimal.NewFromInt(100)).
			DivRound(decimal.NewFromInt(limit.Minor), 2)
	}
	return st
}

// Package analysis computes grouped totals and budget status over a ledger
// snapshot. Everything here is a pure function of its inputs.
package analysis

import (
	"cmp"
	"slices"
	"strings"

	"finledger/internal/core"
)

// Query selects and groups records.
type Query struct {
	Range    core.DateRange
	Grouping core.Grouping
	// Categories, when non-empty, keeps only records in these categories
	// (case-insensitive).
	Categories []string
	// Currency labels the zero groups produced for an empty result.
	Currency string
}

// Group is one partition of the snapshot. Amounts are minor units of
// Currency; groups never mix currencies.
type Group struct {
	Key      string
	Label    string
	Currency string
	Count    int
	Sum      int64
	Average  int64
}

func (g Group) SumMoney() core.Money     { return core.Money{Minor: g.Sum, Currency: g.Currency} }
func (g Group) AverageMoney() core.Money { return core.Money{Minor: g.Average, Currency: g.Currency} }

// OverallLabel names the single group produced by GroupByNone.
const OverallLabel = "All"

type groupKey struct {
	key      string
	currency string
}

// Aggregate partitions the in-range records of snapshot by q.Grouping and
// currency. An empty selection yields zero groups rather than an error:
// one overall group for GroupByNone, and one per requested category when a
// category filter is given.
func Aggregate(snapshot []core.TransactionRecord, q Query) []Group {
	filter := make(map[string]string, len(q.Categories))
	for _, c := range q.Categories {
		filter[strings.ToLower(strings.TrimSpace(c))] = c
	}

	groups := map[groupKey]*Group{}
	for _, rec := range snapshot {
		if !q.Range.Contains(rec.Date) {
			continue
		}
		if len(filter) > 0 {
			if _, ok := filter[strings.ToLower(rec.Category)]; !ok {
				continue
			}
		}
		key, label := keyOf(rec, q.Grouping)
		gk := groupKey{key, rec.Amount.Currency}
		g, ok := groups[gk]
		if !ok {
			g = &Group{Key: key, Label: label, Currency: rec.Amount.Currency}
			groups[gk] = g
		}
		g.Count++
		g.Sum += rec.Amount.Minor
	}

	switch {
	case q.Grouping == core.GroupByNone && len(groups) == 0:
		groups[groupKey{}] = &Group{Label: OverallLabel, Currency: q.Currency}
	case q.Grouping == core.GroupByCategory && len(filter) > 0:
		for folded, label := range filter {
			if !hasKey(groups, folded) {
				groups[groupKey{key: folded, currency: q.Currency}] = &Group{Key: folded, Label: label, Currency: q.Currency}
			}
		}
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		g.Average = roundedAverage(g.Sum, g.Count)
		out = append(out, *g)
	}
	SortGroups(out)
	return out
}

// SortGroups orders by descending sum, then ascending label, then currency.
func SortGroups(groups []Group) {
	slices.SortFunc(groups, func(a, b Group) int {
		if c := cmp.Compare(b.Sum, a.Sum); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Label, b.Label); c != 0 {
			return c
		}
		return cmp.Compare(a.Currency, b.Currency)
	})
}

// Totals sums groups per currency.
func Totals(groups []Group) map[string]int64 {
	out := map[string]int64{}
	for _, g := range groups {
		out[g.Currency] += g.Sum
	}
	return out
}

func keyOf(rec core.TransactionRecord, grouping core.Grouping) (key, label string) {
	switch grouping {
	case core.GroupByMerchant:
		// The first record seen supplies the display casing; snapshots
		// are id-ordered, so this is the earliest spelling.
		return rec.MerchantKey(), strings.Join(strings.Fields(rec.Merchant), " ")
	case core.GroupByNone:
		return "", OverallLabel
	default:
		return strings.ToLower(rec.Category), rec.Category
	}
}

func hasKey(groups map[groupKey]*Group, key string) bool {
	for gk := range groups {
		if gk.key == key {
			return true
		}
	}
	return false
}

// roundedAverage divides sum by count rounding half away from zero.
func roundedAverage(sum int64, count int) int64 {
	if count == 0 {
		return 0
	}
	n := int64(count)
	q, r := sum/n, sum%n
	if r < 0 {
		r = -r
	}
	if 2*r >= n {
		if sum < 0 {
			q--
		} else {
			q++
		}
	}
	return q
}

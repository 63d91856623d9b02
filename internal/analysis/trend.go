package analysis

import (
	"cmp"
	"slices"
	"strings"

	"finledger/internal/core"
)

// MovingAverageWindow is the trailing window, in days, of DayPoint.MovingAverage.
const MovingAverageWindow = 7

// DayPoint is one calendar day of a Series. Days without records have a
// zero Sum.
type DayPoint struct {
	Date  core.Date
	Count int
	Sum   int64
	// MovingAverage is the mean Sum of this day and up to six days before
	// it, counting only days inside the range.
	MovingAverage int64
}

// Series is the day-by-day spending of one currency across a range.
type Series struct {
	Currency     string
	Days         []DayPoint
	Total        int64
	AverageDaily int64
}

// DailySeries builds one zero-filled series per currency over q.Range,
// honouring the category filter. Grouping is ignored. When nothing matches,
// the result is a single all-zero series labelled q.Currency.
func DailySeries(snapshot []core.TransactionRecord, q Query) []Series {
	if q.Range.Validate() != nil {
		return nil
	}
	filter := make(map[string]bool, len(q.Categories))
	for _, c := range q.Categories {
		filter[strings.ToLower(strings.TrimSpace(c))] = true
	}

	type dayKey struct {
		currency string
		day      string
	}
	sums := map[dayKey]int64{}
	counts := map[dayKey]int{}
	currencies := map[string]bool{}
	for _, rec := range snapshot {
		if !q.Range.Contains(rec.Date) {
			continue
		}
		if len(filter) > 0 && !filter[strings.ToLower(rec.Category)] {
			continue
		}
		k := dayKey{rec.Amount.Currency, rec.Date.String()}
		sums[k] += rec.Amount.Minor
		counts[k]++
		currencies[rec.Amount.Currency] = true
	}
	if len(currencies) == 0 {
		currencies[q.Currency] = true
	}

	out := make([]Series, 0, len(currencies))
	for currency := range currencies {
		s := Series{Currency: currency}
		var window int64
		for d := q.Range.Start; !d.After(q.Range.End); d = d.AddDays(1) {
			k := dayKey{currency, d.String()}
			p := DayPoint{Date: d, Count: counts[k], Sum: sums[k]}
			s.Total += p.Sum

			window += p.Sum
			if n := len(s.Days); n >= MovingAverageWindow {
				window -= s.Days[n-MovingAverageWindow].Sum
			}
			p.MovingAverage = roundedAverage(window, min(len(s.Days)+1, MovingAverageWindow))
			s.Days = append(s.Days, p)
		}
		s.AverageDaily = roundedAverage(s.Total, len(s.Days))
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Series) int { return cmp.Compare(a.Currency, b.Currency) })
	return out
}

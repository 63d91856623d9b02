package report

import (
	"time"

	"finledger/internal/analysis"
	"finledger/internal/core"
)

// View is the JSON shape of a report. Amounts are decimal strings in major
// units so clients never see floats.
type View struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	PeriodKind   string       `json:"period_kind"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	Grouping     string       `json:"grouping"`
	GeneratedAt  time.Time    `json:"generated_at"`
	RecordCount  int          `json:"record_count"`
	Groups       []GroupView  `json:"groups"`
	Totals       []AmountView `json:"totals"`
	TopMerchants []GroupView  `json:"top_merchants,omitempty"`
	BudgetMonth  string       `json:"budget_month,omitempty"`
	Budget       []BudgetView `json:"budget,omitempty"`
	Trend        []TrendView  `json:"trend"`
}

type AmountView struct {
	Amount   string `json:"amount"`
	Minor    int64  `json:"amount_minor"`
	Currency string `json:"currency"`
}

type GroupView struct {
	Label   string     `json:"label"`
	Count   int        `json:"count"`
	Sum     AmountView `json:"sum"`
	Average AmountView `json:"average"`
}

type TrendView struct {
	Currency     string     `json:"currency"`
	Total        AmountView `json:"total"`
	AverageDaily AmountView `json:"average_daily"`
	Days         []DayView  `json:"days"`
}

type DayView struct {
	Date          string     `json:"date"`
	Count         int        `json:"count"`
	Sum           AmountView `json:"sum"`
	MovingAverage AmountView `json:"moving_average_7d"`
}

type BudgetView struct {
	Category string      `json:"category"`
	Status   string      `json:"status"`
	Actual   AmountView  `json:"actual"`
	Limit    *AmountView `json:"limit,omitempty"`
	Percent  string      `json:"percent,omitempty"`
}

// View converts r for JSON encoding.
func (r *Report) View() View {
	v := View{
		ID:          r.ID,
		Title:       r.Title,
		PeriodKind:  string(r.Request.PeriodKind),
		From:        r.Request.Range.Start.String(),
		To:          r.Request.Range.End.String(),
		Grouping:    string(r.Request.Grouping),
		GeneratedAt: r.GeneratedAt,
		RecordCount: r.RecordCount,
		Groups:      groupViews(r.Groups),
		Totals:      []AmountView{},
		BudgetMonth: r.BudgetMonth,
		Trend:       []TrendView{},
	}
	for _, t := range r.Totals {
		v.Totals = append(v.Totals, amountView(t.Minor, t.Currency))
	}
	if len(r.TopMerchants) > 0 {
		v.TopMerchants = groupViews(r.TopMerchants)
	}
	for _, s := range r.Budget {
		b := BudgetView{
			Category: s.Category,
			Status:   string(s.State),
			Actual:   amountView(s.Actual.Minor, s.Actual.Currency),
			Percent:  percent(s),
		}
		if s.Limit != nil {
			l := amountView(s.Limit.Minor, s.Limit.Currency)
			b.Limit = &l
		}
		v.Budget = append(v.Budget, b)
	}
	for _, s := range r.Trend {
		tv := TrendView{
			Currency:     s.Currency,
			Total:        amountView(s.Total, s.Currency),
			AverageDaily: amountView(s.AverageDaily, s.Currency),
			Days:         make([]DayView, 0, len(s.Days)),
		}
		for _, d := range s.Days {
			tv.Days = append(tv.Days, DayView{
				Date:          d.Date.String(),
				Count:         d.Count,
				Sum:           amountView(d.Sum, s.Currency),
				MovingAverage: amountView(d.MovingAverage, s.Currency),
			})
		}
		v.Trend = append(v.Trend, tv)
	}
	return v
}

func groupViews(groups []analysis.Group) []GroupView {
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupView{
			Label:   g.Label,
			Count:   g.Count,
			Sum:     amountView(g.Sum, g.Currency),
			Average: amountView(g.Average, g.Currency),
		})
	}
	return out
}

func amountView(minor int64, currency string) AmountView {
	m := core.Money{Minor: minor, Currency: currency}
	return AmountView{Amount: m.Amount(), Minor: minor, Currency: currency}
}

package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"finledger/internal/analysis"
	"finledger/internal/core"
)

//go:embed templates/*.html
var templatesFS embed.FS

var emailTemplate = template.Must(template.New("email.html").Funcs(template.FuncMap{
	"money":   money,
	"percent": percent,
	"limit":   limitText,
	"minor":   func(minor int64, currency string) string { return money(core.Money{Minor: minor, Currency: currency}) },
	"listed":  func(s analysis.Series) bool { return len(s.Days) <= MaxTrendDays },
}).ParseFS(templatesFS, "templates/email.html"))

// Subject is the delivery subject line, e.g. "Monthly Financial Report
// June 2025".
func Subject(r *Report) string {
	kind := string(r.Request.PeriodKind)
	if kind == "" {
		kind = string(core.PeriodCustom)
	}
	return strings.ToUpper(kind[:1]) + kind[1:] + " Financial Report " + r.Title
}

// RenderText writes the report as an aligned plain-text table, suitable
// for chat replies and API responses.
func RenderText(w io.Writer, r *Report) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n", Subject(r))
	fmt.Fprintf(&buf, "Period: %s (%d records)\n\n", r.Request.Range, r.RecordCount)

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%s\tCount\tTotal\tAverage\t\n", groupingHeader(r.Request.Grouping))
	for _, g := range r.Groups {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", g.Label, g.Count, money(g.SumMoney()), money(g.AverageMoney()))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, t := range r.Totals {
		fmt.Fprintf(&buf, "Total: %s\n", money(t))
	}

	if len(r.TopMerchants) > 0 {
		buf.WriteString("\nTop merchants:\n")
		for i, g := range r.TopMerchants {
			fmt.Fprintf(&buf, "%d. %s %s\n", i+1, g.Label, money(g.SumMoney()))
		}
	}

	for _, series := range r.Trend {
		fmt.Fprintf(&buf, "\nDaily average: %s\n", money(core.Money{Minor: series.AverageDaily, Currency: series.Currency}))
		if len(series.Days) > MaxTrendDays {
			continue
		}
		tw = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(tw, "Day\tSpent\t7-day avg\t\n")
		for _, d := range series.Days {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", d.Date, money(core.Money{Minor: d.Sum, Currency: series.Currency}),
				money(core.Money{Minor: d.MovingAverage, Currency: series.Currency}))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if r.Request.IncludeBudget {
		fmt.Fprintf(&buf, "\nBudget %s:\n", r.BudgetMonth)
		if len(r.Budget) == 0 {
			buf.WriteString("no categories to track\n")
		}
		tw = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		for _, s := range r.Budget {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Category, s.State, money(s.Actual), limitText(s), percent(s))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// RenderHTML writes the report as an HTML email body.
func RenderHTML(w io.Writer, r *Report) error {
	return emailTemplate.Execute(w, struct {
		*Report
		Subject   string
		Generated string
	}{r, Subject(r), r.GeneratedAt.UTC().Format(time.DateTime + " MST")})
}

func groupingHeader(g core.Grouping) string {
	switch g {
	case core.GroupByMerchant:
		return "Merchant"
	case core.GroupByNone:
		return "Overall"
	default:
		return "Category"
	}
}

func money(m core.Money) string {
	return strings.TrimSpace(m.String())
}

func limitText(s analysis.BudgetStatus) string {
	if s.Limit == nil {
		return "-"
	}
	return "of " + money(*s.Limit)
}

func percent(s analysis.BudgetStatus) string {
	if s.Limit == nil || s.Limit.Minor == 0 {
		return ""
	}
	return s.Percent.StringFixed(1) + "%"
}

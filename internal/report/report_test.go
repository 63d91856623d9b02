package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"finledger/internal/analysis"
	"finledger/internal/core"
	"finledger/internal/ledger/memory"
	"finledger/internal/retry"
)

var generated = time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)

func seeded() *memory.Store {
	s := memory.New()
	add := func(id int64, day int, merchant, category string, minor int64) {
		s.Seed(core.TransactionRecord{
			ID:          id,
			SourceHash:  "h" + merchant + string(rune('a'+id)),
			Date:        core.NewDate(2025, 6, day),
			Merchant:    merchant,
			Amount:      core.Money{Minor: minor, Currency: "EUR"},
			Category:    category,
			IngestedAt:  generated,
			SubmittedBy: "alice",
		})
	}
	add(1, 2, "Coop", "Food", 4500)
	add(2, 3, "Esselunga", "Food", 4000)
	add(3, 10, "Trenitalia", "Transport", 3900)
	add(4, 20, "Coop", "Food", 500)
	return s
}

func newTestBuilder(s *memory.Store, limits []core.BudgetLimit) *Builder {
	return NewBuilder(s, limits, "EUR",
		WithBuilderClock(func() time.Time { return generated }),
		withIDs(func() string { return "rep-1" }))
}

var juneRange = core.DateRange{Start: core.NewDate(2025, 6, 1), End: core.NewDate(2025, 6, 30)}

func TestBuild(t *testing.T) {
	limits := []core.BudgetLimit{
		{Category: "Food", Limit: core.Money{Minor: 10000, Currency: "EUR"}},
		{Category: "Health", Limit: core.Money{Minor: 5000, Currency: "EUR"}},
	}
	b := newTestBuilder(seeded(), limits)

	r, err := b.Build(context.Background(), core.ReportRequest{
		PeriodKind:    core.PeriodMonthly,
		Range:         juneRange,
		Grouping:      core.GroupByCategory,
		IncludeBudget: true,
		RequestedBy:   "alice",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if r.ID != "rep-1" || r.Title != "June 2025" || r.RecordCount != 4 {
		t.Errorf("report header = {%s %s %d}", r.ID, r.Title, r.RecordCount)
	}
	if len(r.Groups) != 2 || r.Groups[0].Label != "Food" || r.Groups[0].Sum != 9000 {
		t.Errorf("Groups = %+v", r.Groups)
	}
	if len(r.Totals) != 1 || r.Totals[0] != (core.Money{Minor: 12900, Currency: "EUR"}) {
		t.Errorf("Totals = %v, want EUR 129.00", r.Totals)
	}
	if len(r.TopMerchants) != 3 || r.TopMerchants[0].Label != "Coop" || r.TopMerchants[0].Sum != 5000 {
		t.Errorf("TopMerchants = %+v", r.TopMerchants)
	}

	if len(r.Trend) != 1 {
		t.Fatalf("Trend = %d series, want 1", len(r.Trend))
	}
	trend := r.Trend[0]
	if len(trend.Days) != 30 || trend.Total != 12900 || trend.AverageDaily != 430 {
		t.Errorf("Trend = %d days total %d avg %d, want 30 days total 12900 avg 430", len(trend.Days), trend.Total, trend.AverageDaily)
	}
	if d := trend.Days[1]; d.Date.String() != "2025-06-02" || d.Sum != 4500 || d.MovingAverage != 2250 {
		t.Errorf("Trend day 2 = %s sum %d ma %d, want 2025-06-02 4500 2250", d.Date, d.Sum, d.MovingAverage)
	}

	wantBudget := map[string]analysis.BudgetState{
		"Food":      analysis.BudgetNear,
		"Health":    analysis.BudgetUnder,
		"Transport": analysis.BudgetUnmonitored,
	}
	if r.BudgetMonth != "2025-06" || len(r.Budget) != len(wantBudget) {
		t.Fatalf("Budget %s = %+v", r.BudgetMonth, r.Budget)
	}
	for _, s := range r.Budget {
		if s.State != wantBudget[s.Category] {
			t.Errorf("budget %s = %s, want %s", s.Category, s.State, wantBudget[s.Category])
		}
	}
}

func TestBuild_EmptyRange(t *testing.T) {
	b := newTestBuilder(memory.New(), nil)
	r, err := b.Build(context.Background(), core.ReportRequest{
		PeriodKind: core.PeriodDaily,
		Range:      core.DateRange{Start: core.NewDate(2025, 6, 5), End: core.NewDate(2025, 6, 5)},
		Grouping:   core.GroupByNone,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(r.Groups) != 1 || r.Groups[0].Label != analysis.OverallLabel || r.Groups[0].Count != 0 {
		t.Errorf("Groups = %+v, want one zero group", r.Groups)
	}
	if r.RecordCount != 0 || len(r.TopMerchants) != 0 {
		t.Errorf("RecordCount = %d, TopMerchants = %v", r.RecordCount, r.TopMerchants)
	}
}

func TestBuild_Defaults(t *testing.T) {
	b := newTestBuilder(seeded(), nil)
	r, err := b.Build(context.Background(), core.ReportRequest{Range: juneRange, Categories: []string{"transport"}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if r.Request.Grouping != core.GroupByCategory || r.Request.PeriodKind != core.PeriodCustom {
		t.Errorf("defaults = %s/%s", r.Request.Grouping, r.Request.PeriodKind)
	}
	if r.RecordCount != 1 || len(r.Groups) != 1 || r.Groups[0].Label != "Transport" {
		t.Errorf("filtered report = %d records, %+v", r.RecordCount, r.Groups)
	}
}

func TestBuild_InvalidRequest(t *testing.T) {
	b := newTestBuilder(seeded(), nil)
	_, err := b.Build(context.Background(), core.ReportRequest{
		Range: core.DateRange{Start: core.NewDate(2025, 6, 30), End: core.NewDate(2025, 6, 1)},
	})
	if !errors.Is(err, core.ErrInvalidRange) {
		t.Errorf("Build() error = %v, want ErrInvalidRange", err)
	}
}

type flakyReader struct {
	*memory.Store
	failures int
	calls    int
}

func (f *flakyReader) ReadRange(ctx context.Context, r core.DateRange) ([]core.TransactionRecord, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, core.ErrStorageUnavailable
	}
	return f.Store.ReadRange(ctx, r)
}

func TestBuild_RetriesTransientReads(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		wantErr  bool
	}{
		{"recovers", 2, false},
		{"gives up", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &flakyReader{Store: seeded(), failures: tt.failures}
			b := NewBuilder(reader, nil, "EUR",
				WithReadRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond}))
			_, err := b.Build(context.Background(), core.ReportRequest{Range: juneRange})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, core.ErrStorageUnavailable) {
				t.Errorf("Build() error = %v, want ErrStorageUnavailable", err)
			}
		})
	}
}

func TestRenderText(t *testing.T) {
	limits := []core.BudgetLimit{{Category: "Food", Limit: core.Money{Minor: 10000, Currency: "EUR"}}}
	r, err := newTestBuilder(seeded(), limits).Build(context.Background(), core.ReportRequest{
		PeriodKind:    core.PeriodMonthly,
		Range:         juneRange,
		IncludeBudget: true,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var buf bytes.Buffer
	if err := RenderText(&buf, r); err != nil {
		t.Fatalf("RenderText() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Monthly Financial Report June 2025",
		"(4 records)",
		"EUR 90.00",
		"Total: EUR 129.00",
		"1. Coop EUR 50.00",
		"Budget 2025-06:",
		"near",
		"90.0%",
		"unmonitored",
		"Daily average: EUR 4.30",
		"7-day avg",
		"2025-06-02",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderText() missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "Food") > strings.Index(out, "Transport") {
		t.Errorf("groups out of order:\n%s", out)
	}
}

func TestRenderHTML(t *testing.T) {
	s := memory.New()
	s.Seed(core.TransactionRecord{
		ID: 1, SourceHash: "x", Date: core.NewDate(2025, 6, 2), Merchant: "<b>Evil</b> & Co",
		Amount: core.Money{Minor: 100, Currency: "EUR"}, Category: "Food", SubmittedBy: "alice", IngestedAt: generated,
	})
	r, err := newTestBuilder(s, nil).Build(context.Background(), core.ReportRequest{
		PeriodKind: core.PeriodMonthly, Range: juneRange, Grouping: core.GroupByMerchant,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var buf bytes.Buffer
	if err := RenderHTML(&buf, r); err != nil {
		t.Fatalf("RenderHTML() error = %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "<b>Evil</b>") {
		t.Error("merchant name was not escaped")
	}
	for _, want := range []string{"<h2>Monthly Financial Report June 2025</h2>", "&lt;b&gt;Evil&lt;/b&gt; &amp; Co", "EUR 1.00", "Report rep-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderHTML() missing %q", want)
		}
	}
	if strings.Contains(out, "Top Merchants") {
		t.Error("merchant report repeated the top merchant list")
	}
	for _, want := range []string{"Daily Spending (EUR)", "Daily average: EUR 0.03", "7-day avg", "<td>2025-06-02</td>"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderHTML() missing %q", want)
		}
	}
}

func TestRenderText_LongRangeOmitsDays(t *testing.T) {
	r, err := newTestBuilder(seeded(), nil).Build(context.Background(), core.ReportRequest{
		Range: core.DateRange{Start: core.NewDate(2025, 4, 1), End: core.NewDate(2025, 6, 30)},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	var buf bytes.Buffer
	if err := RenderText(&buf, r); err != nil {
		t.Fatalf("RenderText() error = %v", err)
	}
	out := buf.String()
	// 129.00 over 91 days.
	if !strings.Contains(out, "Daily average: EUR 1.42") {
		t.Errorf("RenderText() missing daily average in:\n%s", out)
	}
	if strings.Contains(out, "7-day avg") {
		t.Errorf("RenderText() listed %d days:\n%s", len(r.Trend[0].Days), out)
	}
}

func TestView_JSON(t *testing.T) {
	r, err := newTestBuilder(seeded(), nil).Build(context.Background(), core.ReportRequest{
		PeriodKind: core.PeriodMonthly, Range: juneRange, Grouping: core.GroupByNone,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	data, err := json.Marshal(r.View())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	groups := got["groups"].([]any)
	sum := groups[0].(map[string]any)["sum"].(map[string]any)
	if sum["amount"] != "129.00" || sum["currency"] != "EUR" {
		t.Errorf("sum = %v, want 129.00 EUR", sum)
	}
	if _, ok := got["budget"]; ok {
		t.Error("budget present without IncludeBudget")
	}
	trend := got["trend"].([]any)[0].(map[string]any)
	avg := trend["average_daily"].(map[string]any)
	if avg["amount"] != "4.30" || len(trend["days"].([]any)) != 30 {
		t.Errorf("trend = average %v over %d days, want 4.30 over 30", avg["amount"], len(trend["days"].([]any)))
	}
}

package analysis

import (
	"testing"

	"finledger/internal/core"
)

func TestDailySeries_FillsGaps(t *testing.T) {
	snapshot := []core.TransactionRecord{
		rec(1, 1, "Coop", "Food", 700, "EUR"),
		rec(2, 3, "Coop", "Food", 1000, "EUR"),
		rec(3, 3, "Bar", "Food", 400, "EUR"),
		rec(4, 9, "Shell", "Fuel", 70, "EUR"),
		rec(5, 12, "Shell", "Fuel", 9999, "EUR"),
	}
	rng := core.DateRange{Start: core.NewDate(2025, 6, 1), End: core.NewDate(2025, 6, 10)}

	got := DailySeries(snapshot, Query{Range: rng, Currency: "EUR"})
	if len(got) != 1 {
		t.Fatalf("DailySeries() returned %d series, want 1", len(got))
	}
	s := got[0]
	if s.Currency != "EUR" || s.Total != 2170 || s.AverageDaily != 217 {
		t.Errorf("series = %s total %d avg %d, want EUR total 2170 avg 217", s.Currency, s.Total, s.AverageDaily)
	}

	wantSums := []int64{700, 0, 1400, 0, 0, 0, 0, 0, 70, 0}
	wantMA := []int64{700, 350, 700, 525, 420, 350, 300, 200, 210, 10}
	if len(s.Days) != len(wantSums) {
		t.Fatalf("Days = %d, want %d", len(s.Days), len(wantSums))
	}
	for i, p := range s.Days {
		if want := rng.Start.AddDays(i); p.Date.String() != want.String() {
			t.Errorf("day %d date = %s, want %s", i, p.Date, want)
		}
		if p.Sum != wantSums[i] || p.MovingAverage != wantMA[i] {
			t.Errorf("day %s = sum %d ma %d, want sum %d ma %d", p.Date, p.Sum, p.MovingAverage, wantSums[i], wantMA[i])
		}
	}
	if s.Days[2].Count != 2 {
		t.Errorf("day 3 count = %d, want 2", s.Days[2].Count)
	}
}

func TestDailySeries_Empty(t *testing.T) {
	rng := core.DateRange{Start: core.NewDate(2025, 6, 9), End: core.NewDate(2025, 6, 15)}
	tests := []struct {
		name     string
		snapshot []core.TransactionRecord
		q        Query
	}{
		{"no records", nil, Query{Range: rng, Currency: "EUR"}},
		{"records outside range", []core.TransactionRecord{rec(1, 1, "Coop", "Food", 500, "EUR")}, Query{Range: rng, Currency: "EUR"}},
		{"filtered out", []core.TransactionRecord{rec(1, 10, "Coop", "Food", 500, "EUR")}, Query{Range: rng, Currency: "EUR", Categories: []string{"Travel"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DailySeries(tt.snapshot, tt.q)
			if len(got) != 1 || got[0].Currency != "EUR" {
				t.Fatalf("DailySeries() = %+v, want one EUR series", got)
			}
			if len(got[0].Days) != 7 || got[0].Total != 0 || got[0].AverageDaily != 0 {
				t.Errorf("series = %d days total %d avg %d, want 7 zero days", len(got[0].Days), got[0].Total, got[0].AverageDaily)
			}
			for _, p := range got[0].Days {
				if p.Sum != 0 || p.MovingAverage != 0 || p.Count != 0 {
					t.Errorf("day %s = %+v, want zero", p.Date, p)
				}
			}
		})
	}
}

func TestDailySeries_PerCurrencyAndFilter(t *testing.T) {
	snapshot := []core.TransactionRecord{
		rec(1, 1, "Uber", "Transport", 300, "USD"),
		rec(2, 1, "Coop", "Food", 500, "EUR"),
		rec(3, 2, "Trenitalia", "Transport", 1500, "EUR"),
		rec(4, 2, "Coop", "Food", -200, "EUR"),
	}
	rng := core.DateRange{Start: core.NewDate(2025, 6, 1), End: core.NewDate(2025, 6, 2)}

	got := DailySeries(snapshot, Query{Range: rng, Currency: "EUR"})
	if len(got) != 2 || got[0].Currency != "EUR" || got[1].Currency != "USD" {
		t.Fatalf("DailySeries() currencies = %+v, want EUR then USD", got)
	}
	if got[0].Total != 1800 || got[0].Days[1].Sum != 1300 {
		t.Errorf("EUR total %d day 2 %d, want 1800 and 1300", got[0].Total, got[0].Days[1].Sum)
	}

	food := DailySeries(snapshot, Query{Range: rng, Currency: "EUR", Categories: []string{"food"}})
	if len(food) != 1 || food[0].Total != 300 {
		t.Errorf("food series = %+v, want one EUR series totalling 300", food)
	}
}

func TestDailySeries_InvalidRange(t *testing.T) {
	rng := core.DateRange{Start: core.NewDate(2025, 6, 10), End: core.NewDate(2025, 6, 1)}
	if got := DailySeries(nil, Query{Range: rng, Currency: "EUR"}); got != nil {
		t.Errorf("DailySeries() = %+v, want nil", got)
	}
}

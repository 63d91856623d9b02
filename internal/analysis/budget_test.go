package analysis

import (
	"testing"

	"finledger/internal/core"
)

func eur(minor int64) core.Money { return core.Money{Minor: minor, Currency: "EUR"} }

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		actual int64
		limit  int64
		want   BudgetState
	}{
		{"nothing spent", 0, 10000, BudgetUnder},
		{"just under near", 7999, 10000, BudgetUnder},
		{"at near threshold", 8000, 10000, BudgetNear},
		{"at limit", 10000, 10000, BudgetNear},
		{"one cent over", 10001, 10000, BudgetOver},
		{"net refund", -500, 10000, BudgetUnder},
		{"zero limit unspent", 0, 0, BudgetUnder},
		{"zero limit spent", 1, 0, BudgetOver},
		{"uneven threshold below", 79, 99, BudgetUnder},
		{"uneven threshold above", 80, 99, BudgetNear},
		{"large values", 1 << 61, 1 << 61, BudgetNear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.actual, tt.limit); got != tt.want {
				t.Errorf("Classify(%d, %d) = %s, want %s", tt.actual, tt.limit, got, tt.want)
			}
		})
	}
}

func TestTrackBudget(t *testing.T) {
	groups := []Group{
		{Key: "food", Label: "Food", Currency: "EUR", Count: 3, Sum: 9000},
		{Key: "fuel", Label: "Fuel", Currency: "EUR", Count: 1, Sum: 2000},
		{Key: "transport", Label: "Transport", Currency: "USD", Count: 1, Sum: 300},
	}
	limits := []core.BudgetLimit{
		{Category: "Food", Limit: eur(10000)},
		{Category: "Transport", Limit: eur(5000)},
		{Category: "Rent", Limit: eur(80000)},
		{Category: "Rent", Period: "2025-07", Limit: eur(1)},
	}

	got := TrackBudget(groups, limits, "2025-06")
	want := []struct {
		category string
		currency string
		actual   int64
		state    BudgetState
		limited  bool
	}{
		{"Food", "EUR", 9000, BudgetNear, true},
		{"Fuel", "EUR", 2000, BudgetUnmonitored, false},
		{"Rent", "EUR", 0, BudgetUnder, true},
		{"Transport", "EUR", 0, BudgetUnder, true},
		{"Transport", "USD", 300, BudgetUnmonitored, false},
	}
	if len(got) != len(want) {
		t.Fatalf("TrackBudget() returned %d statuses, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.Category != w.category || g.Actual.Currency != w.currency || g.Actual.Minor != w.actual || g.State != w.state {
			t.Errorf("status %d = {%s %s %d %s}, want {%s %s %d %s}", i,
				g.Category, g.Actual.Currency, g.Actual.Minor, g.State,
				w.category, w.currency, w.actual, w.state)
		}
		if (g.Limit != nil) != w.limited {
			t.Errorf("status %d limit = %v, want limited %v", i, g.Limit, w.limited)
		}
	}
	if got[0].Percent.String() != "90" {
		t.Errorf("Food percent = %s, want 90", got[0].Percent)
	}
	if rem, ok := got[0].Remaining(); !ok || rem.Minor != 1000 {
		t.Errorf("Food remaining = %v, %v; want 1000", rem, ok)
	}
	if _, ok := got[1].Remaining(); ok {
		t.Error("unmonitored category reported a remaining amount")
	}
}

func TestActiveLimits_MonthOverride(t *testing.T) {
	limits := []core.BudgetLimit{
		{Category: "Food", Period: "2025-03", Limit: eur(5000)},
		{Category: "food", Limit: eur(10000)},
	}
	tests := []struct {
		month string
		want  int64
	}{
		{"2025-03", 5000},
		{"2025-04", 10000},
	}
	for _, tt := range tests {
		got := ActiveLimits(limits, tt.month)["food"]
		if got.Limit.Minor != tt.want {
			t.Errorf("ActiveLimits(%s) food = %d, want %d", tt.month, got.Limit.Minor, tt.want)
		}
	}
}

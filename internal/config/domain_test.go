package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDomainFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDomain_Defaults(t *testing.T) {
	d, err := LoadDomain("")
	if err != nil {
		t.Fatalf("LoadDomain() error = %v", err)
	}
	if d.DefaultCurrency != "EUR" {
		t.Errorf("DefaultCurrency = %q, want EUR", d.DefaultCurrency)
	}
	if d.Validation.FutureToleranceDays != 7 {
		t.Errorf("FutureToleranceDays = %d, want 7", d.Validation.FutureToleranceDays)
	}
	if d.Dedup.Granularity != "document" {
		t.Errorf("Dedup.Granularity = %q, want document", d.Dedup.Granularity)
	}
	if len(d.Categories) == 0 {
		t.Error("expected default categories")
	}
}

func TestLoadDomain_CurrencyCeilings(t *testing.T) {
	d, err := LoadDomain("")
	if err != nil {
		t.Fatalf("LoadDomain() error = %v", err)
	}
	tests := []struct {
		currency string
		atLeast  int64
	}{
		{"EUR", 100_000_00},
		{"IDR", 150_000_000_00}, // a Rp 150 million invoice
		{"idr", 150_000_000_00},
		{"JPY", 10_000_000},
		{"KRW", 100_000_000},
		{"VND", 2_000_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			got, err := d.MaxAmountMinor(tt.currency)
			if err != nil {
				t.Fatalf("MaxAmountMinor(%s) error = %v", tt.currency, err)
			}
			if got < tt.atLeast {
				t.Errorf("MaxAmountMinor(%s) = %d, want >= %d", tt.currency, got, tt.atLeast)
			}
		})
	}
}

func TestLoadDomain_CeilingOverridesKeepDefaults(t *testing.T) {
	path := writeDomainFile(t, "ledger.yaml", `
validation:
  max_amount: "5000"
  max_amount_by_currency:
    idr: "1000000"
`)
	d, err := LoadDomain(path)
	if err != nil {
		t.Fatalf("LoadDomain() error = %v", err)
	}
	if got, _ := d.MaxAmountMinor("IDR"); got != 1_000_000_00 {
		t.Errorf("MaxAmountMinor(IDR) = %d, want 100000000", got)
	}
	if got, _ := d.MaxAmountMinor("JPY"); got != 20_000_000 {
		t.Errorf("MaxAmountMinor(JPY) = %d, want default 20000000", got)
	}
	if got, _ := d.MaxAmountMinor("USD"); got != 5000_00 {
		t.Errorf("MaxAmountMinor(USD) = %d, want 500000", got)
	}
}

func TestLoadDomain_YAML(t *testing.T) {
	path := writeDomainFile(t, "ledger.yaml", `
categories: [Food, Transport, Rent]
default_currency: usd
known_merchants: [Starbucks, Walmart]
validation:
  max_amount: "5000"
  max_amount_by_currency:
    JPY: "800000"
  future_tolerance_days: 3
  max_age_days: 365
budgets:
  - category: Food
    limit: "400"
  - category: Food
    period: "2025-12"
    limit: "600.50"
schedules:
  - user: alice
    period: weekly
    recipients: [alice@example.com]
    grouping: merchant
    hour: 8
timezone: Europe/Rome
`)
	d, err := LoadDomain(path)
	if err != nil {
		t.Fatalf("LoadDomain() error = %v", err)
	}
	if d.DefaultCurrency != "USD" {
		t.Errorf("DefaultCurrency = %q, want USD", d.DefaultCurrency)
	}
	if len(d.Schedules) != 1 || d.Schedules[0].Grouping != "merchant" {
		t.Errorf("Schedules = %+v", d.Schedules)
	}

	limits, err := d.BudgetLimits()
	if err != nil {
		t.Fatalf("BudgetLimits() error = %v", err)
	}
	if len(limits) != 2 {
		t.Fatalf("BudgetLimits() len = %d, want 2", len(limits))
	}
	if limits[1].Limit.Minor != 60050 || limits[1].Limit.Currency != "USD" {
		t.Errorf("limit = %+v, want 60050 USD", limits[1].Limit)
	}

	if got, _ := d.MaxAmountMinor("USD"); got != 500000 {
		t.Errorf("MaxAmountMinor(USD) = %d, want 500000", got)
	}
	if got, _ := d.MaxAmountMinor("JPY"); got != 800000 {
		t.Errorf("MaxAmountMinor(JPY) = %d, want 800000", got)
	}
	if d.Location().String() != "Europe/Rome" {
		t.Errorf("Location() = %v, want Europe/Rome", d.Location())
	}
}

func TestLoadDomain_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown currency",
			body:    "default_currency: XYZ\n",
			wantErr: "iso4217",
		},
		{
			name:    "budget for unknown category",
			body:    "categories: [Food]\nbudgets:\n  - category: Travel\n    limit: \"10\"\n",
			wantErr: `budget for unknown category "Travel"`,
		},
		{
			name:    "bad budget month",
			body:    "categories: [Food]\nbudgets:\n  - category: Food\n    period: \"12-2025\"\n    limit: \"10\"\n",
			wantErr: "budget_month",
		},
		{
			name:    "reserved category",
			body:    "categories: [Food, UNCATEGORIZED]\n",
			wantErr: "reserved",
		},
		{
			name:    "schedule without recipients",
			body:    "schedules:\n  - user: bob\n    period: monthly\n",
			wantErr: "Recipients",
		},
		{
			name:    "duplicate schedule",
			body:    "schedules:\n  - user: bob\n    period: daily\n    recipients: [b@example.com]\n  - user: bob\n    period: daily\n    recipients: [b@example.com]\n",
			wantErr: "duplicate schedule",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDomainFile(t, "ledger.yaml", tt.body)
			_, err := LoadDomain(path)
			if err == nil {
				t.Fatal("LoadDomain() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadDomain() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDomain_MissingFile(t *testing.T) {
	if _, err := LoadDomain(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

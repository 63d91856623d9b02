package backend

import (
	"context"
	"path/filepath"
	"testing"

	"finledger/internal/config"
	"finledger/internal/core"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("FromAppConfig(nil) returned no error")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "postgres"}); err == nil {
		t.Error("FromAppConfig() accepted an unknown backend")
	}
	got, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != SQLiteBackend || got.SQLiteDBPath != "x.db" {
		t.Errorf("FromAppConfig() = %+v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "a.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"sheets", Config{Type: SheetsBackend, GoogleSpreadsheetID: "id", GoogleServiceAccountJSON: "{}"}, false},
		{"sheets without credentials", Config{Type: SheetsBackend, GoogleSpreadsheetID: "id"}, true},
		{"sheets without id", Config{Type: SheetsBackend, GoogleServiceAccountFile: "sa.json"}, true},
		{"unknown", Config{Type: "csv"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	for _, cfg := range []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "ledger.db")},
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			res, err := f.CreateBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("CreateBackend() error = %v", err)
			}
			defer res.Close()

			rec := core.TransactionRecord{
				SourceHash:  "abc",
				Date:        core.NewDate(2025, 6, 1),
				Merchant:    "Esselunga",
				Amount:      core.Money{Minor: 1250, Currency: "EUR"},
				Category:    "Food",
				SubmittedBy: "u1",
			}
			id, err := res.Store.Append(ctx, rec)
			if err != nil || id != 1 {
				t.Fatalf("Append() = %d, %v, want 1", id, err)
			}
			if _, found, err := res.Store.LookupByDedupKey(ctx, "abc", "u1"); err != nil || !found {
				t.Errorf("LookupByDedupKey() found = %v, err = %v", found, err)
			}
		})
	}

	if _, err := f.CreateBackend(ctx, Config{Type: SheetsBackend, GoogleSpreadsheetID: "id", GoogleServiceAccountFile: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Error("CreateBackend() succeeded with a missing credentials file")
	}
}

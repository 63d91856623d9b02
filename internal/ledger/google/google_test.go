package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finledger/internal/core"
	"finledger/internal/ledger"
	"finledger/internal/ledger/ledgertest"
)

// fakeSheets serves the two Values endpoints the client uses over an
// in-memory grid.
type fakeSheets struct {
	mu     sync.Mutex
	grid   [][]any
	status int // forced error status for every request when non-zero
}

var rowRange = regexp.MustCompile(`!A(\d+):K\d+$`)

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"code":` + strconv.Itoa(f.status) + `,"message":"forced"}}`))
		return
	}
	idx := strings.Index(r.URL.Path, "/values/")
	if idx == -1 {
		http.NotFound(w, r)
		return
	}
	rng := r.URL.Path[idx+len("/values/"):]

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "majorDimension": "ROWS", "values": f.grid})
	case http.MethodPut:
		if got := r.URL.Query().Get("valueInputOption"); got != "RAW" {
			http.Error(w, "valueInputOption "+got, http.StatusBadRequest)
			return
		}
		m := rowRange.FindStringSubmatch(rng)
		if m == nil {
			http.Error(w, "bad range "+rng, http.StatusBadRequest)
			return
		}
		row, _ := strconv.Atoi(m[1])
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil || len(vr.Values) != 1 {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		for len(f.grid) < row {
			f.grid = append(f.grid, []any{})
		}
		f.grid[row-1] = vr.Values[0]
		_ = json.NewEncoder(w).Encode(map[string]any{"updatedRange": rng, "updatedRows": 1})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return NewWithService(svc, "sheet-id", "Ledger")
}

func TestSheetsStoreContract(t *testing.T) {
	ledgertest.RunStoreContract(t, func(t *testing.T) ledger.Store {
		return newTestClient(t, &fakeSheets{})
	})
}

func TestAppendWritesHeaderOnce(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)
	ctx := context.Background()

	for i, h := range []string{"a", "b"} {
		id, err := c.Append(ctx, ledgertest.Record(h, "alice", 1, 100))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if id != int64(i+1) {
			t.Errorf("Append() id = %d, want %d", id, i+1)
		}
	}
	if len(fake.grid) != 3 {
		t.Fatalf("grid rows = %d, want header + 2", len(fake.grid))
	}
	if fake.grid[0][0] != "id" {
		t.Errorf("header = %v", fake.grid[0])
	}
	if fake.grid[2][colAmount] != "100" || fake.grid[2][colDate] != "2025-06-01" {
		t.Errorf("row = %v", fake.grid[2])
	}
}

func TestMalformedRowsSkipped(t *testing.T) {
	fake := &fakeSheets{grid: [][]any{
		header,
		{"1", "2025-06-01T10:00:00Z", "2025-06-01", "Shop", "500", "EUR", "Food", "", "h1", "alice", "{}"},
		{"x", "garbage"},
		{},
		{"3", "2025-06-02T10:00:00Z", "2025-06-02", "Shop", "700", "EUR", "Food", "refund", "h3", "alice", ""},
	}}
	c := newTestClient(t, fake)

	got, err := c.ReadRange(context.Background(), core.DateRange{Start: core.NewDate(2025, 6, 1), End: core.NewDate(2025, 6, 30)})
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("ReadRange() = %+v, want ids 1 and 3", got)
	}
	if !got[1].HasFlag(core.FlagRefund) {
		t.Errorf("Flags = %v, want refund", got[1].Flags)
	}
}

func TestServerErrorsAreTransient(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			c := newTestClient(t, &fakeSheets{status: tt.status})
			_, _, err := c.LookupByDedupKey(context.Background(), "h", "u")
			if err == nil {
				t.Fatal("LookupByDedupKey() error = nil")
			}
			if got := errors.Is(err, core.ErrStorageUnavailable); got != tt.transient {
				t.Errorf("errors.Is(ErrStorageUnavailable) = %v, want %v (err %v)", got, tt.transient, err)
			}
		})
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), "", "Ledger", []byte("{}")); err == nil {
		t.Error("New() without spreadsheet id succeeded")
	}
	if _, err := New(context.Background(), "id", "Ledger", nil); err == nil {
		t.Error("New() without credentials succeeded")
	}
}

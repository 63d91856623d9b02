// Package google stores the ledger in a Google Sheets tab, one record per
// row under a fixed header.
package google

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finledger/internal/core"
	"finledger/internal/ledger"
	applog "finledger/internal/log"
)

// header is written to row 1 of an empty sheet. Column order is part of the
// storage format.
var header = []any{
	"id", "ingested_at", "date", "merchant", "amount_minor", "currency",
	"category", "flags", "source_hash", "submitted_by", "raw_extraction",
}

const (
	colID = iota
	colIngestedAt
	colDate
	colMerchant
	colAmount
	colCurrency
	colCategory
	colFlags
	colSourceHash
	colSubmittedBy
	colRaw
	numCols
)

// Sheets caps a cell at 50k characters.
const maxCellLen = 50000

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string

	// mu serializes appends from this process; the sheet itself has no
	// row-level locking.
	mu sync.Mutex
}

var _ ledger.Store = (*Client)(nil)

// New creates a Sheets-backed store authenticated with a service account.
func New(ctx context.Context, spreadsheetID, sheet string, credentialsJSON []byte) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if len(credentialsJSON) == 0 {
		return nil, errors.New("missing service account credentials")
	}
	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		applog.FieldComponent, applog.ComponentSheets,
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, sheet), nil
}

// NewWithService wraps an existing service, e.g. one pointed at a test
// endpoint.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheet string) *Client {
	if sheet == "" {
		sheet = "Ledger"
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}
}

// Append writes rec to the first free row. The record id is the row's
// position below the header, so ids follow row order without gaps.
func (c *Client) Append(ctx context.Context, rec core.TransactionRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.readAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		if err := c.writeRow(ctx, 1, header); err != nil {
			return 0, fmt.Errorf("write header: %w", err)
		}
		rows = [][]any{header}
	}
	for _, row := range rows[1:] {
		cells := toStrings(row)
		if cell(cells, colSourceHash) == rec.SourceHash && cell(cells, colSubmittedBy) == rec.SubmittedBy {
			return 0, ledger.ErrDuplicateKey
		}
	}

	nextRow := len(rows) + 1
	id := int64(nextRow - 1)
	rec.ID = id
	if err := c.writeRow(ctx, nextRow, encodeRow(rec)); err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Transaction appended to sheet",
		applog.FieldComponent, applog.ComponentSheets,
		applog.FieldRecordID, id,
		"sheet", c.sheet,
		"row", nextRow)
	return id, nil
}

func (c *Client) ReadRange(ctx context.Context, r core.DateRange) ([]core.TransactionRecord, error) {
	recs, err := c.records(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.TransactionRecord, 0, len(recs))
	for _, rec := range recs {
		if r.Contains(rec.Date) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (c *Client) LookupByDedupKey(ctx context.Context, sourceHash, submittedBy string) (core.TransactionRecord, bool, error) {
	recs, err := c.records(ctx)
	if err != nil {
		return core.TransactionRecord{}, false, err
	}
	for _, rec := range recs {
		if rec.SourceHash == sourceHash && rec.SubmittedBy == submittedBy {
			return rec, true, nil
		}
	}
	return core.TransactionRecord{}, false, nil
}

// records reads and decodes every data row, ordered by id. Rows that do
// not decode are skipped with a warning so one hand edit does not take the
// ledger offline.
func (c *Client) records(ctx context.Context) ([]core.TransactionRecord, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rows, err := c.readAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	out := make([]core.TransactionRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		cells := toStrings(row)
		if strings.Join(cells, "") == "" {
			continue
		}
		rec, err := decodeRow(cells)
		if err != nil {
			slog.WarnContext(ctx, "Skipping malformed ledger row",
				applog.FieldComponent, applog.ComponentSheets,
				"row", i+2,
				applog.FieldError, err)
			continue
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b core.TransactionRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (c *Client) readAll(ctx context.Context) ([][]any, error) {
	rng := fmt.Sprintf("%s!A:K", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Sprintf("read %s", rng), err)
	}
	return resp.Values, nil
}

func (c *Client) writeRow(ctx context.Context, row int, values []any) error {
	rng := fmt.Sprintf("%s!A%d:K%d", c.sheet, row, row)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	// RAW keeps dates, hashes and minor units as the exact strings we wrote.
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return classify(fmt.Sprintf("update %s", rng), err)
	}
	return nil
}

func encodeRow(rec core.TransactionRecord) []any {
	flags := make([]string, len(rec.Flags))
	for i, f := range rec.Flags {
		flags[i] = string(f)
	}
	raw := rec.RawExtraction
	if r := []rune(raw); len(r) > maxCellLen {
		raw = string(r[:maxCellLen])
	}
	return []any{
		strconv.FormatInt(rec.ID, 10),
		rec.IngestedAt.UTC().Format(time.RFC3339Nano),
		rec.Date.String(),
		rec.Merchant,
		strconv.FormatInt(rec.Amount.Minor, 10),
		rec.Amount.Currency,
		rec.Category,
		strings.Join(flags, ","),
		rec.SourceHash,
		rec.SubmittedBy,
		raw,
	}
}

func decodeRow(cells []string) (core.TransactionRecord, error) {
	var rec core.TransactionRecord
	var err error
	if rec.ID, err = strconv.ParseInt(cell(cells, colID), 10, 64); err != nil {
		return rec, fmt.Errorf("id: %w", err)
	}
	if rec.IngestedAt, err = time.Parse(time.RFC3339Nano, cell(cells, colIngestedAt)); err != nil {
		return rec, fmt.Errorf("ingested_at: %w", err)
	}
	if rec.Date, err = core.ParseDate(cell(cells, colDate)); err != nil {
		return rec, err
	}
	if rec.Amount.Minor, err = strconv.ParseInt(cell(cells, colAmount), 10, 64); err != nil {
		return rec, fmt.Errorf("amount_minor: %w", err)
	}
	rec.Merchant = cell(cells, colMerchant)
	rec.Amount.Currency = cell(cells, colCurrency)
	rec.Category = cell(cells, colCategory)
	if f := cell(cells, colFlags); f != "" {
		for _, p := range strings.Split(f, ",") {
			rec.Flags = append(rec.Flags, core.Flag(p))
		}
	}
	rec.SourceHash = cell(cells, colSourceHash)
	rec.SubmittedBy = cell(cells, colSubmittedBy)
	rec.RawExtraction = cell(cells, colRaw)
	return rec, nil
}

func toStrings(in []any) []string {
	out := make([]string, numCols)
	for i, v := range in {
		if i >= numCols {
			break
		}
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// classify wraps quota, server and network failures in
// core.ErrStorageUnavailable.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == 429 || gerr.Code >= 500) {
		return fmt.Errorf("%s: %w: %v", op, core.ErrStorageUnavailable, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return fmt.Errorf("%s: %w: %v", op, core.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Package http provides HTTP server and handler implementations.
//
// This file parses report queries and document uploads into domain values.

package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"finledger/internal/core"
	"finledger/internal/report"
	"finledger/internal/services"
)

// HeaderUserID identifies the submitting or requesting user.
const HeaderUserID = "X-User-ID"

// Report output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

var (
	ErrBadRequest      = errors.New("bad request")
	ErrMissingFile     = errors.New("missing document file")
	ErrUnsupportedMIME = errors.New("unsupported document type")
	ErrTooLarge        = errors.New("document too large")
)

// ReportQuery is a parsed GET /api/reports request.
type ReportQuery struct {
	Request core.ReportRequest
	Format  string
}

// ParseReportQuery turns query parameters into a report request. Either
// from and to (a custom range) or period with an optional reference date
// is accepted; period defaults to monthly and date to today.
func ParseReportQuery(query url.Values, today core.Date) (ReportQuery, error) {
	q := ReportQuery{
		Request: core.ReportRequest{Grouping: core.GroupByCategory},
		Format:  FormatJSON,
	}

	period := strings.ToLower(strings.TrimSpace(query.Get("period")))
	from := strings.TrimSpace(query.Get("from"))
	to := strings.TrimSpace(query.Get("to"))

	switch {
	case from != "" || to != "":
		if from == "" || to == "" {
			return q, fmt.Errorf("%w: from and to must be given together", ErrBadRequest)
		}
		if period != "" && period != string(core.PeriodCustom) {
			return q, fmt.Errorf("%w: period %q cannot be combined with from/to", ErrBadRequest, period)
		}
		start, err := core.ParseDate(from)
		if err != nil {
			return q, fmt.Errorf("%w: from: %v", ErrBadRequest, err)
		}
		end, err := core.ParseDate(to)
		if err != nil {
			return q, fmt.Errorf("%w: to: %v", ErrBadRequest, err)
		}
		q.Request.PeriodKind = core.PeriodCustom
		q.Request.Range = core.DateRange{Start: start, End: end}
		if err := q.Request.Range.Validate(); err != nil {
			return q, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	default:
		kind := core.PeriodMonthly
		if period != "" {
			kind = core.PeriodKind(period)
		}
		if !kind.IsValid() || kind == core.PeriodCustom {
			return q, fmt.Errorf("%w: period must be daily, weekly or monthly, got %q", ErrBadRequest, period)
		}
		ref := today
		if v := strings.TrimSpace(query.Get("date")); v != "" {
			d, err := core.ParseDate(v)
			if err != nil {
				return q, fmt.Errorf("%w: date: %v", ErrBadRequest, err)
			}
			ref = d
		}
		r, err := report.PeriodRange(kind, ref)
		if err != nil {
			return q, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		q.Request.PeriodKind = kind
		q.Request.Range = r
	}

	if v := strings.ToLower(strings.TrimSpace(query.Get("group"))); v != "" {
		g := core.Grouping(v)
		if !g.IsValid() {
			return q, fmt.Errorf("%w: group must be category, merchant or none, got %q", ErrBadRequest, v)
		}
		q.Request.Grouping = g
	}

	for _, c := range query["category"] {
		if c = strings.TrimSpace(c); c != "" {
			q.Request.Categories = append(q.Request.Categories, c)
		}
	}

	if v := strings.TrimSpace(query.Get("budget")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("%w: budget: %q is not a boolean", ErrBadRequest, v)
		}
		q.Request.IncludeBudget = b
	}

	if v := strings.ToLower(strings.TrimSpace(query.Get("format"))); v != "" {
		if v != FormatJSON && v != FormatText {
			return q, fmt.Errorf("%w: format must be json or text, got %q", ErrBadRequest, v)
		}
		q.Format = v
	}
	return q, nil
}

// ParseDocumentUpload reads the multipart "document" field and the
// submitting user. The body must already be wrapped in http.MaxBytesReader.
func ParseDocumentUpload(r *http.Request, maxBytes int64) (services.Document, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return services.Document{}, ErrTooLarge
		}
		return services.Document{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	file, _, err := r.FormFile("document")
	if err != nil {
		return services.Document{}, ErrMissingFile
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return services.Document{}, ErrTooLarge
		}
		return services.Document{}, fmt.Errorf("read document: %w", err)
	}

	mimeType, err := sniffDocumentType(data)
	if err != nil {
		return services.Document{}, err
	}

	user := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if user == "" {
		user = strings.TrimSpace(r.FormValue("user"))
	}
	return services.Document{Data: data, MIMEType: mimeType, SubmittedBy: user}, nil
}

// sniffDocumentType accepts images and PDFs by content, ignoring the
// client's declared type. Empty input passes through so the intake
// pipeline reports it.
func sniffDocumentType(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	detected := http.DetectContentType(data)
	mimeType, _, _ := strings.Cut(detected, ";")
	if strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf" {
		return mimeType, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMIME, mimeType)
}

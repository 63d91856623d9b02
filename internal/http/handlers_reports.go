package http

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"finledger/internal/core"
	applog "finledger/internal/log"
	"finledger/internal/report"
)

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)

	q, err := ParseReportQuery(r.URL.Query(), report.Today(s.now(), s.loc))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	q.Request.RequestedBy = strings.TrimSpace(r.Header.Get(HeaderUserID))

	rep, err := s.reports.Build(ctx, q.Request)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrStorageUnavailable):
			logger.ErrorContext(ctx, "Ledger unavailable for report", applog.FieldError, err)
			UnavailableError("ledger temporarily unavailable, try again later", 30).Write(w)
		case errors.Is(err, core.ErrInvalidRange),
			errors.Is(err, core.ErrInvalidPeriodKind),
			errors.Is(err, core.ErrInvalidGrouping):
			BadRequestError(err.Error()).Write(w)
		default:
			logger.ErrorContext(ctx, "Report build failed",
				applog.FieldRange, q.Request.Range.String(),
				applog.FieldError, err)
			InternalServerError("report could not be built").Write(w)
		}
		return
	}

	if q.Format == FormatText {
		var buf bytes.Buffer
		if err := report.RenderText(&buf, rep); err != nil {
			logger.ErrorContext(ctx, "Report render failed", applog.FieldReportID, rep.ID, applog.FieldError, err)
			InternalServerError("report could not be rendered").Write(w)
			return
		}
		NewResponse().Text(buf.String()).Write(w)
		return
	}
	NewResponse().JSON(rep.View()).Write(w)
}

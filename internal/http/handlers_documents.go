package http

import (
	"errors"
	"net/http"
	"time"

	"finledger/internal/core"
	applog "finledger/internal/log"
	"finledger/internal/services"
)

type recordView struct {
	ID          int64     `json:"id"`
	Date        string    `json:"date"`
	Merchant    string    `json:"merchant"`
	Amount      string    `json:"amount"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Flags       []string  `json:"flags,omitempty"`
	IngestedAt  time.Time `json:"ingested_at"`
	SubmittedBy string    `json:"submitted_by"`
}

type documentResponse struct {
	Outcome      string      `json:"outcome"`
	DocumentHash string      `json:"document_hash"`
	Confirmation string      `json:"confirmation"`
	Reason       string      `json:"reason,omitempty"`
	Record       *recordView `json:"record,omitempty"`
}

func newRecordView(r core.TransactionRecord) *recordView {
	v := &recordView{
		ID:          r.ID,
		Date:        r.Date.String(),
		Merchant:    r.Merchant,
		Amount:      r.Amount.Amount(),
		AmountMinor: r.Amount.Minor,
		Currency:    r.Amount.Currency,
		Category:    r.Category,
		IngestedAt:  r.IngestedAt,
		SubmittedBy: r.SubmittedBy,
	}
	for _, f := range r.Flags {
		v.Flags = append(v.Flags, string(f))
	}
	return v
}

func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	doc, err := ParseDocumentUpload(r, s.maxUpload)
	if err != nil {
		switch {
		case errors.Is(err, ErrTooLarge):
			ErrorResponse(http.StatusRequestEntityTooLarge, "too_large", "document exceeds the upload limit").Write(w)
		case errors.Is(err, ErrUnsupportedMIME):
			ErrorResponse(http.StatusUnsupportedMediaType, "unsupported_type", err.Error()).Write(w)
		case errors.Is(err, ErrMissingFile):
			BadRequestError("multipart field \"document\" is required").Write(w)
		default:
			BadRequestError(err.Error()).Write(w)
		}
		logger.WarnContext(ctx, "Document upload refused", applog.FieldError, err)
		return
	}

	outcome, err := s.intake.Submit(ctx, doc)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyDocument):
			BadRequestError("document is empty").Write(w)
		case errors.Is(err, services.ErrMissingUser):
			BadRequestError("header " + HeaderUserID + " or form field \"user\" is required").Write(w)
		case errors.Is(err, core.ErrStorageUnavailable):
			logger.ErrorContext(ctx, "Ledger unavailable during intake", applog.FieldError, err)
			UnavailableError("ledger temporarily unavailable, resubmit later", 30).Write(w)
		case errors.Is(err, services.ErrExtraction):
			logger.ErrorContext(ctx, "Extraction failed", applog.FieldError, err)
			ErrorResponse(http.StatusBadGateway, "extraction_failed", "the document could not be read, try again").Write(w)
		default:
			logger.ErrorContext(ctx, "Document intake failed", applog.FieldError, err)
			InternalServerError("document intake failed").Write(w)
		}
		return
	}

	resp := documentResponse{
		Outcome:      string(outcome.Kind),
		DocumentHash: outcome.DocumentHash,
		Confirmation: outcome.Confirmation(),
	}
	status := http.StatusOK
	switch outcome.Kind {
	case services.OutcomeRecorded:
		status = http.StatusCreated
		resp.Record = newRecordView(outcome.Record)
	case services.OutcomeDuplicate:
		resp.Record = newRecordView(outcome.Record)
	case services.OutcomeRejected:
		status = http.StatusUnprocessableEntity
		resp.Reason = string(outcome.Reason)
	}
	NewResponse().Status(status).JSON(resp).Write(w)
}

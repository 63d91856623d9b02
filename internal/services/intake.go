package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"finledger/internal/cache"
	"finledger/internal/core"
	"finledger/internal/extraction"
	applog "finledger/internal/log"
	"finledger/internal/validation"
)

var (
	ErrEmptyDocument = errors.New("empty document")
	ErrMissingUser   = errors.New("missing submitting user")
	ErrExtraction    = errors.New("model extraction failed")
	ErrNotConfigured = errors.New("intake not configured")
)

// Dedup granularities.
const (
	DedupDocument = "document"
	DedupFields   = "fields"
)

// Extractor runs the multimodal model on a document and returns its raw
// text output.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Archiver keeps a copy of the original document bytes.
type Archiver interface {
	Archive(ctx context.Context, hash string, data []byte, mimeType string) (string, error)
}

type Document struct {
	Data        []byte
	MIMEType    string
	SubmittedBy string
}

type OutcomeKind string

const (
	OutcomeRecorded  OutcomeKind = "recorded"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeRejected  OutcomeKind = "rejected"
)

// IntakeOutcome is what the submitter is told about a document.
type IntakeOutcome struct {
	Kind         OutcomeKind
	DocumentHash string
	Record       core.TransactionRecord // set for recorded and duplicate
	Reason       core.FailureReason     // set for rejected
	Detail       string
}

// Confirmation renders the outcome as a short message for the submitter.
func (o IntakeOutcome) Confirmation() string {
	r := o.Record
	switch o.Kind {
	case OutcomeRecorded:
		return fmt.Sprintf("Recorded #%d: %s, %s, %s (%s)", r.ID, r.Date, r.Merchant, r.Amount, r.Category)
	case OutcomeDuplicate:
		return fmt.Sprintf("Already recorded as #%d: %s, %s, %s", r.ID, r.Date, r.Merchant, r.Amount)
	case OutcomeRejected:
		msg := "Not recorded: " + o.Reason.Message()
		if o.Detail != "" {
			msg += " (" + o.Detail + ")"
		}
		return msg
	default:
		return string(o.Kind)
	}
}

type IntakeDeps struct {
	Extractor  Extractor
	Archiver   Archiver // optional
	Cache      *cache.LRUCache[string]
	Normalizer *extraction.Normalizer
	Validator  *validation.Validator
	Reconciler *Reconciler
	// DedupGranularity is DedupDocument (default) or DedupFields.
	DedupGranularity string
	// BatchParallelism bounds concurrent extractions in SubmitBatch.
	BatchParallelism int
}

// IntakeService runs the document pipeline: hash, archive, extract,
// normalize, validate, reconcile.
type IntakeService struct {
	deps IntakeDeps
}

func NewIntakeService(deps IntakeDeps) (*IntakeService, error) {
	if deps.Extractor == nil || deps.Normalizer == nil || deps.Validator == nil || deps.Reconciler == nil {
		return nil, fmt.Errorf("%w: extractor, normalizer, validator and reconciler are required", ErrNotConfigured)
	}
	switch deps.DedupGranularity {
	case "":
		deps.DedupGranularity = DedupDocument
	case DedupDocument, DedupFields:
	default:
		return nil, fmt.Errorf("%w: unknown dedup granularity %q", ErrNotConfigured, deps.DedupGranularity)
	}
	if deps.BatchParallelism < 1 {
		deps.BatchParallelism = 4
	}
	return &IntakeService{deps: deps}, nil
}

// HashDocument returns the hex SHA-256 of the document bytes.
func HashDocument(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Submit processes one document. Rejections are outcomes, not errors; the
// error return is reserved for extraction and storage failures the caller
// may retry.
func (s *IntakeService) Submit(ctx context.Context, doc Document) (IntakeOutcome, error) {
	ctx, logger := s.intakeLogger(ctx, doc)
	res, err := s.prepare(ctx, doc)
	if err != nil || res.outcome != nil {
		return s.finish(ctx, logger, res, err)
	}
	return s.commit(ctx, logger, res)
}

// SubmitBatch processes documents from one submission. Extraction,
// normalization and validation run in parallel; reconciliation runs in
// input order so ids follow the order the documents were given. The
// returned slices are index-aligned with docs.
func (s *IntakeService) SubmitBatch(ctx context.Context, docs []Document) ([]IntakeOutcome, []error) {
	preps := make([]prepared, len(docs))
	errs := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deps.BatchParallelism)
	for i, doc := range docs {
		g.Go(func() error {
			preps[i], errs[i] = s.prepare(gctx, doc)
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]IntakeOutcome, len(docs))
	for i, doc := range docs {
		ictx, logger := s.intakeLogger(ctx, doc)
		if errs[i] != nil || preps[i].outcome != nil {
			outcomes[i], errs[i] = s.finish(ictx, logger, preps[i], errs[i])
			continue
		}
		outcomes[i], errs[i] = s.commit(ictx, logger, preps[i])
	}
	return outcomes, errs
}

// prepared is a document that went through the pure stages.
// outcome is set when the document is settled before reconciliation.
type prepared struct {
	hash    string
	record  core.ValidatedRecord
	outcome *IntakeOutcome
}

func (s *IntakeService) prepare(ctx context.Context, doc Document) (prepared, error) {
	if len(doc.Data) == 0 {
		return prepared{}, ErrEmptyDocument
	}
	if strings.TrimSpace(doc.SubmittedBy) == "" {
		return prepared{}, ErrMissingUser
	}
	hash := HashDocument(doc.Data)
	out := prepared{hash: hash}

	if s.deps.Archiver != nil {
		if ref, err := s.deps.Archiver.Archive(ctx, hash, doc.Data, doc.MIMEType); err != nil {
			slog.WarnContext(ctx, "Document archive failed, continuing",
				applog.FieldComponent, applog.ComponentIntake,
				applog.FieldDocHash, hash,
				applog.FieldError, err)
		} else {
			slog.DebugContext(ctx, "Document archived",
				applog.FieldComponent, applog.ComponentIntake,
				applog.FieldDocHash, hash,
				"ref", ref)
		}
	}

	raw, err := s.extract(ctx, hash, doc)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	norm := s.deps.Normalizer.Normalize(raw, hash, doc.SubmittedBy)
	if !norm.OK() {
		out.outcome = &IntakeOutcome{Kind: OutcomeRejected, DocumentHash: hash, Reason: norm.Failure.Reason, Detail: norm.Failure.Detail}
		return out, nil
	}
	val := s.deps.Validator.Validate(norm.Candidate)
	if !val.OK() {
		out.outcome = &IntakeOutcome{Kind: OutcomeRejected, DocumentHash: hash, Reason: val.Failure.Reason, Detail: val.Failure.Detail}
		return out, nil
	}
	out.record = val.Record
	if s.deps.DedupGranularity == DedupFields {
		out.record.SourceHash = FieldsHash(out.record)
	}
	return out, nil
}

func (s *IntakeService) extract(ctx context.Context, hash string, doc Document) (string, error) {
	if s.deps.Cache == nil {
		return s.deps.Extractor.Extract(ctx, doc.Data, doc.MIMEType)
	}
	raw, cached, err := s.deps.Cache.GetOrLoad(ctx, hash, func(ctx context.Context) (string, error) {
		return s.deps.Extractor.Extract(ctx, doc.Data, doc.MIMEType)
	})
	if cached {
		slog.DebugContext(ctx, "Extraction served from cache",
			applog.FieldComponent, applog.ComponentIntake,
			applog.FieldDocHash, hash)
	}
	return raw, err
}

func (s *IntakeService) commit(ctx context.Context, logger *applog.Logger, p prepared) (IntakeOutcome, error) {
	res, err := s.deps.Reconciler.Reconcile(ctx, p.record)
	if err != nil {
		return s.finish(ctx, logger, p, err)
	}
	out := IntakeOutcome{Kind: OutcomeRecorded, DocumentHash: p.hash, Record: res.Record}
	if res.Status == DuplicateSkipped {
		out.Kind = OutcomeDuplicate
	}
	return s.finish(ctx, logger, prepared{hash: p.hash, outcome: &out}, nil)
}

func (s *IntakeService) finish(ctx context.Context, logger *applog.Logger, p prepared, err error) (IntakeOutcome, error) {
	if err != nil {
		logger.ErrorContext(ctx, "Document intake failed",
			applog.FieldDocHash, p.hash,
			applog.FieldError, err)
		return IntakeOutcome{DocumentHash: p.hash}, err
	}
	out := *p.outcome
	args := []any{applog.FieldDocHash, out.DocumentHash, "outcome", string(out.Kind)}
	if out.Kind == OutcomeRejected {
		args = append(args, applog.FieldReason, string(out.Reason))
	} else {
		args = append(args, applog.FieldRecordID, out.Record.ID)
	}
	logger.InfoContext(ctx, "Document processed", args...)
	return out, nil
}

func (s *IntakeService) intakeLogger(ctx context.Context, doc Document) (context.Context, *applog.Logger) {
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentIntake).
		With("intake_id", uuid.NewString(), applog.FieldSubmittedBy, doc.SubmittedBy)
	return applog.NewContext(ctx, logger), logger
}

// FieldsHash keys a record by what it says rather than the bytes it came
// from, so a re-photographed receipt is still a duplicate.
func FieldsHash(r core.ValidatedRecord) string {
	key := strings.Join([]string{
		r.Date.String(),
		core.FoldMerchant(r.Merchant),
		strconv.FormatInt(r.Amount.Minor, 10),
		r.Amount.Currency,
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return "f:" + hex.EncodeToString(sum[:])
}

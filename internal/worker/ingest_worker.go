package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"finledger/internal/amqp"
	"finledger/internal/core"
	applog "finledger/internal/log"
	"finledger/internal/services"
)

// Submitter runs one document through the intake pipeline.
type Submitter interface {
	Submit(ctx context.Context, doc services.Document) (services.IntakeOutcome, error)
}

// DocumentConsumer is the queue the worker reads from.
type DocumentConsumer interface {
	ConsumeDocuments(ctx context.Context, handler func(context.Context, *amqp.DocumentMessage) error) error
}

// IngestWorker consumes queued documents. A message is acked once its
// outcome is settled (recorded, duplicate or rejected), requeued while the
// ledger is unavailable, and dropped when it can never succeed.
type IngestWorker struct {
	intake Submitter
	// maxExtractAttempts bounds redeliveries caused by model failures.
	maxExtractAttempts int

	mu       sync.Mutex
	attempts map[string]int
}

func NewIngestWorker(intake Submitter, maxExtractAttempts int) *IngestWorker {
	if maxExtractAttempts < 1 {
		maxExtractAttempts = 3
	}
	return &IngestWorker{
		intake:             intake,
		maxExtractAttempts: maxExtractAttempts,
		attempts:           make(map[string]int),
	}
}

// Run consumes until ctx ends.
func (w *IngestWorker) Run(ctx context.Context, consumer DocumentConsumer) error {
	return consumer.ConsumeDocuments(ctx, w.HandleDocumentMessage)
}

// HandleDocumentMessage processes one queued document. The returned error
// decides the message's fate: nil acks, amqp.ErrDropMessage rejects, any
// other error requeues.
func (w *IngestWorker) HandleDocumentMessage(ctx context.Context, msg *amqp.DocumentMessage) error {
	logger := slog.With(
		applog.FieldComponent, applog.ComponentWorker,
		"message_id", msg.MessageID,
		applog.FieldSubmittedBy, msg.SubmittedBy)
	logger.InfoContext(ctx, "Processing document message", "bytes", len(msg.Content))

	out, err := w.intake.Submit(ctx, services.Document{
		Data:        msg.Content,
		MIMEType:    msg.MIMEType,
		SubmittedBy: msg.SubmittedBy,
	})
	switch {
	case err == nil:
		w.forget(msg.MessageID)
		logger.InfoContext(ctx, "Document settled",
			"outcome", string(out.Kind),
			"confirmation", out.Confirmation())
		return nil

	case errors.Is(err, core.ErrStorageUnavailable):
		logger.WarnContext(ctx, "Ledger unavailable, requeueing document", applog.FieldError, err)
		return fmt.Errorf("ingest document: %w", err)

	case errors.Is(err, services.ErrEmptyDocument), errors.Is(err, services.ErrMissingUser):
		w.forget(msg.MessageID)
		return fmt.Errorf("%w: %w", amqp.ErrDropMessage, err)

	case errors.Is(err, services.ErrExtraction):
		n := w.recordAttempt(msg.MessageID)
		if n < w.maxExtractAttempts {
			logger.WarnContext(ctx, "Extraction failed, requeueing document",
				applog.FieldAttempt, n,
				applog.FieldError, err)
			return fmt.Errorf("ingest document: %w", err)
		}
		w.forget(msg.MessageID)
		return fmt.Errorf("%w: extraction failed %d times: %w", amqp.ErrDropMessage, n, err)

	default:
		return fmt.Errorf("ingest document: %w", err)
	}
}

func (w *IngestWorker) recordAttempt(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[id]++
	return w.attempts[id]
}

func (w *IngestWorker) forget(id string) {
	w.mu.Lock()
	delete(w.attempts, id)
	w.mu.Unlock()
}

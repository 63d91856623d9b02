package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"finledger/internal/amqp"
	"finledger/internal/core"
	"finledger/internal/services"
)

type stubIntake struct {
	err   error
	out   services.IntakeOutcome
	calls int
	last  services.Document
}

func (s *stubIntake) Submit(_ context.Context, doc services.Document) (services.IntakeOutcome, error) {
	s.calls++
	s.last = doc
	return s.out, s.err
}

func message() *amqp.DocumentMessage {
	return amqp.NewDocumentMessage("alice", "image/jpeg", []byte{0xff, 0xd8})
}

func TestHandleDocumentMessage_Settlement(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantNil  bool
		wantDrop bool
	}{
		{"recorded", nil, true, false},
		{"storage down requeues", fmt.Errorf("append: %w", core.ErrStorageUnavailable), false, false},
		{"empty document dropped", services.ErrEmptyDocument, false, true},
		{"missing user dropped", services.ErrMissingUser, false, true},
		{"unknown error requeues", errors.New("boom"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intake := &stubIntake{err: tt.err, out: services.IntakeOutcome{Kind: services.OutcomeRecorded}}
			w := NewIngestWorker(intake, 3)
			msg := message()

			err := w.HandleDocumentMessage(context.Background(), msg)
			if (err == nil) != tt.wantNil {
				t.Fatalf("HandleDocumentMessage() error = %v, want nil %v", err, tt.wantNil)
			}
			if got := errors.Is(err, amqp.ErrDropMessage); got != tt.wantDrop {
				t.Errorf("errors.Is(ErrDropMessage) = %v, want %v", got, tt.wantDrop)
			}
			if intake.last.SubmittedBy != "alice" || intake.last.MIMEType != "image/jpeg" || len(intake.last.Data) != 2 {
				t.Errorf("submitted document = %+v", intake.last)
			}
		})
	}
}

func TestHandleDocumentMessage_RejectedIsAcked(t *testing.T) {
	intake := &stubIntake{out: services.IntakeOutcome{Kind: services.OutcomeRejected, Reason: core.ReasonMissingAmount}}
	if err := NewIngestWorker(intake, 3).HandleDocumentMessage(context.Background(), message()); err != nil {
		t.Errorf("HandleDocumentMessage() error = %v, want ack", err)
	}
}

func TestHandleDocumentMessage_ExtractionAttemptsBounded(t *testing.T) {
	intake := &stubIntake{err: fmt.Errorf("%w: quota exceeded", services.ErrExtraction)}
	w := NewIngestWorker(intake, 3)
	msg := message()
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		err := w.HandleDocumentMessage(ctx, msg)
		if err == nil || errors.Is(err, amqp.ErrDropMessage) {
			t.Fatalf("attempt %d: error = %v, want requeue", attempt, err)
		}
	}
	if err := w.HandleDocumentMessage(ctx, msg); !errors.Is(err, amqp.ErrDropMessage) {
		t.Fatalf("attempt 3: error = %v, want drop", err)
	}

	// The counter was reset, so a new delivery of the same id starts over.
	if err := w.HandleDocumentMessage(ctx, msg); errors.Is(err, amqp.ErrDropMessage) {
		t.Errorf("after drop: error = %v, want requeue", err)
	}
	other := message()
	if err := w.HandleDocumentMessage(ctx, other); errors.Is(err, amqp.ErrDropMessage) {
		t.Errorf("other message: error = %v, want requeue", err)
	}
}

type stubConsumer struct {
	msgs []*amqp.DocumentMessage
	errs []error
}

func (c *stubConsumer) ConsumeDocuments(ctx context.Context, handler func(context.Context, *amqp.DocumentMessage) error) error {
	for _, m := range c.msgs {
		c.errs = append(c.errs, handler(ctx, m))
	}
	return ctx.Err()
}

func TestIngestWorker_Run(t *testing.T) {
	intake := &stubIntake{out: services.IntakeOutcome{Kind: services.OutcomeDuplicate}}
	consumer := &stubConsumer{msgs: []*amqp.DocumentMessage{message(), message()}}
	if err := NewIngestWorker(intake, 0).Run(context.Background(), consumer); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if intake.calls != 2 {
		t.Errorf("Submit called %d times, want 2", intake.calls)
	}
	for i, err := range consumer.errs {
		if err != nil {
			t.Errorf("message %d settled with %v, want ack", i, err)
		}
	}
}

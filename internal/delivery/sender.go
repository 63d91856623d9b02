// Package delivery hands rendered reports to their recipients.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	applog "finledger/internal/log"
	"finledger/internal/report"
)

// ErrPermanent marks a failure that retrying cannot fix, such as a
// rejected recipient.
var ErrPermanent = errors.New("permanent delivery failure")

// Payload is a report rendered for delivery.
type Payload struct {
	ReportID string
	Subject  string
	Text     string
	HTML     string
}

// Sender delivers a payload to every recipient or fails as a whole.
type Sender interface {
	Send(ctx context.Context, p Payload, recipients []string) error
}

// NewPayload renders r in both text and HTML.
func NewPayload(r *report.Report) (Payload, error) {
	var text, html bytes.Buffer
	if err := report.RenderText(&text, r); err != nil {
		return Payload{}, fmt.Errorf("render text: %w", err)
	}
	if err := report.RenderHTML(&html, r); err != nil {
		return Payload{}, fmt.Errorf("render html: %w", err)
	}
	return Payload{
		ReportID: r.ID,
		Subject:  report.Subject(r),
		Text:     text.String(),
		HTML:     html.String(),
	}, nil
}

// LogSender writes payloads to the log instead of delivering them. Used
// in development and when no mail relay is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, p Payload, recipients []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Report delivered to log",
		applog.FieldComponent, applog.ComponentDelivery,
		applog.FieldReportID, p.ReportID,
		"subject", p.Subject,
		"recipients", strings.Join(recipients, ","))
	slog.DebugContext(ctx, p.Text, applog.FieldComponent, applog.ComponentDelivery)
	return nil
}

package amqp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	applog "finledger/internal/log"
)

// PublishDocument queues a document for ingestion.
func (c *Client) PublishDocument(ctx context.Context, msg *DocumentMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, body, msg.MessageID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published document message",
		applog.FieldComponent, applog.ComponentAMQP,
		"message_id", msg.MessageID,
		applog.FieldSubmittedBy, msg.SubmittedBy,
		"bytes", len(msg.Content),
		"queue", c.queueName)
	return nil
}

// ConsumeDocuments hands each decoded document to handler. Messages that
// do not decode are rejected without requeue.
func (c *Client) ConsumeDocuments(ctx context.Context, handler func(context.Context, *DocumentMessage) error) error {
	return c.consume(ctx, func(ctx context.Context, d amqp091.Delivery) error {
		msg, err := DocumentMessageFromJSON(d.Body)
		if err != nil {
			return fmt.Errorf("%w: undecodable document message: %v", ErrDropMessage, err)
		}
		if msg.MessageID == "" {
			msg.MessageID = d.MessageId
		}
		return handler(ctx, msg)
	})
}

// PublishDelivery queues a rendered report for the mail relay.
func (c *Client) PublishDelivery(ctx context.Context, msg *DeliveryMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, body, msg.ReportID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published report delivery",
		applog.FieldComponent, applog.ComponentAMQP,
		applog.FieldReportID, msg.ReportID,
		"recipients", len(msg.Recipients),
		"queue", c.queueName)
	return nil
}

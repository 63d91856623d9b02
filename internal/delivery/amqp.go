package delivery

import (
	"context"
	"time"

	"finledger/internal/amqp"
)

// DeliveryPublisher is the part of the AMQP client the relay sender needs.
type DeliveryPublisher interface {
	PublishDelivery(ctx context.Context, msg *amqp.DeliveryMessage) error
}

// AMQPSender queues payloads for an external mail relay. Delivery counts
// as successful once the broker accepted the message.
type AMQPSender struct {
	publisher DeliveryPublisher
	now       func() time.Time
}

func NewAMQPSender(p DeliveryPublisher) *AMQPSender {
	return &AMQPSender{publisher: p, now: time.Now}
}

func (s *AMQPSender) Send(ctx context.Context, p Payload, recipients []string) error {
	return s.publisher.PublishDelivery(ctx, &amqp.DeliveryMessage{
		ReportID:   p.ReportID,
		Subject:    p.Subject,
		Text:       p.Text,
		HTML:       p.HTML,
		Recipients: recipients,
		CreatedAt:  s.now().UTC(),
	})
}

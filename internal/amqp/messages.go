package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentMessage carries one submitted document from a chat front-end to
// the ingest worker. Content is base64 in JSON.
type DocumentMessage struct {
	MessageID   string    `json:"message_id"`
	SubmittedBy string    `json:"submitted_by"`
	MIMEType    string    `json:"mime_type"`
	Content     []byte    `json:"content"`
	SentAt      time.Time `json:"sent_at"`
}

func NewDocumentMessage(submittedBy, mimeType string, content []byte) *DocumentMessage {
	return &DocumentMessage{
		MessageID:   uuid.NewString(),
		SubmittedBy: submittedBy,
		MIMEType:    mimeType,
		Content:     content,
		SentAt:      time.Now().UTC(),
	}
}

func (m *DocumentMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DocumentMessageFromJSON decodes and checks a document message. Messages
// without a submitter or content can never be processed.
func DocumentMessageFromJSON(data []byte) (*DocumentMessage, error) {
	var msg DocumentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.SubmittedBy == "" {
		return nil, errors.New("document message has no submitted_by")
	}
	if len(msg.Content) == 0 {
		return nil, errors.New("document message has no content")
	}
	return &msg, nil
}

// DeliveryMessage is a rendered report handed to the mail relay.
type DeliveryMessage struct {
	ReportID   string    `json:"report_id"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	HTML       string    `json:"html,omitempty"`
	Recipients []string  `json:"recipients"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *DeliveryMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func DeliveryMessageFromJSON(data []byte) (*DeliveryMessage, error) {
	var msg DeliveryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if len(msg.Recipients) == 0 {
		return nil, fmt.Errorf("delivery message %s has no recipients", msg.ReportID)
	}
	return &msg, nil
}

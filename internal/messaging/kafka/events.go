package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// Topics для Kafka
const (
	TopicContractEvents  = "policyhub.contract.events"
	TopicPaymentEvents   = "policyhub.payment.events"
	TopicDeadLetterQueue = "policyhub.dlq" // Dead Letter Queue для сообщений, не доставленных после retry
)

// DefaultRoutes сопоставляет тип события outbox с topic.
func DefaultRoutes() map[string]string {
	return map[string]string{
		domain.OutboxEventContractIssued:  TopicContractEvents,
		domain.OutboxEventPaymentResolved: TopicPaymentEvents,
	}
}

// Envelope — формат сообщения в topic: метаданные outbox плюс исходный payload.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает сообщение outbox.
func NewEnvelope(event domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt,
	}
}

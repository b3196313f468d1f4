package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/policyhub/internal/domain"
)

// Sender — часть Producer, нужная паблишеру.
type Sender interface {
	Publish(msg Message) error
}

// OutboxTopicPublisher публикует outbox-сообщения в topic, выбранный по типу события.
type OutboxTopicPublisher struct {
	producer Sender
	routes   map[string]string
	fallback string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// События без маршрута уходят в fallback; пустой fallback отключает их публикацию.
func NewOutboxPublisher(producer Sender, routes map[string]string, fallback string) *OutboxTopicPublisher {
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &OutboxTopicPublisher{
		producer: producer,
		routes:   routes,
		fallback: fallback,
	}
}

// NewTopicPublisher публикует все события в один topic (например, DLQ).
func NewTopicPublisher(producer Sender, topic string) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{producer: producer, routes: map[string]string{}, fallback: topic}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	topic, ok := p.routes[event.EventType]
	if !ok {
		topic = p.fallback
	}
	if topic == "" {
		return nil
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.Publish(Message{
		Topic: topic,
		Key:   key,
		Value: NewEnvelope(event, time.Now().UTC()),
		Headers: map[string]string{
			HeaderEventType: event.EventType,
			HeaderOutboxID:  event.ID,
		},
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

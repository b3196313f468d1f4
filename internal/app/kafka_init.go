package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/policyhub/internal/config"
	"github.com/vladislavdragonenkov/policyhub/internal/domain"
	"github.com/vladislavdragonenkov/policyhub/internal/messaging/kafka"
)

// kafkaSinks — паблишеры outbox поверх одного producer.
// Все поля nil, если Kafka не настроена или недоступна.
type kafkaSinks struct {
	producer    *kafka.Producer
	events      domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
}

// initKafka подключается к брокерам. Недоступная Kafka не останавливает
// сервис: побочные эффекты выполняются локально, события в topics не уходят.
func initKafka(cfg config.KafkaConfig, logger *log.Entry) kafkaSinks {
	if !cfg.Enabled() {
		return kafkaSinks{}
	}

	producer, err := kafka.NewProducer(kafka.ProducerOptions{Brokers: cfg.Brokers, ClientID: cfg.ClientID})
	if err != nil {
		logger.WithError(err).WithField("brokers", cfg.Brokers).Warn("kafka unavailable, events stay local")
		return kafkaSinks{}
	}

	dlqTopic := cfg.DLQTopic
	if dlqTopic == "" {
		dlqTopic = kafka.TopicDeadLetterQueue
	}
	logger.WithFields(log.Fields{"brokers": cfg.Brokers, "dlq_topic": dlqTopic}).Info("kafka producer initialized")

	return kafkaSinks{
		producer:    producer,
		events:      kafka.NewOutboxPublisher(producer, nil, ""),
		deadLetters: kafka.NewTopicPublisher(producer, dlqTopic),
	}
}

func (k kafkaSinks) close(logger *log.Entry) {
	if k.producer == nil {
		return
	}
	if err := k.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

package repository

import (
	"context"

	"Flowcast/internal/domain/models"
	domrepo "Flowcast/internal/domain/repository"
	pkgkafka "Flowcast/pkg/kafka"
)

// KafkaAuditPublisher emits pricing audit events (lock transitions, forecast
// runs) to a Kafka topic, keyed by product so one product's trail stays
// ordered.
type KafkaAuditPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaAuditPublisher(producer *pkgkafka.Producer, topic string) *KafkaAuditPublisher {
	return &KafkaAuditPublisher{producer: producer, topic: topic}
}

func (p *KafkaAuditPublisher) Publish(ctx context.Context, e *models.AuditEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(e.ProductID), e)
}

func (p *KafkaAuditPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopAuditPublisher discards events. Used when no broker is configured.
type NoopAuditPublisher struct{}

func (NoopAuditPublisher) Publish(context.Context, *models.AuditEvent) error { return nil }
func (NoopAuditPublisher) Close() error                                      { return nil }

var (
	_ domrepo.AuditPublisher = (*KafkaAuditPublisher)(nil)
	_ domrepo.AuditPublisher = NoopAuditPublisher{}
)

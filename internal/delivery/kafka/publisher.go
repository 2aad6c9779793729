package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azizikri/coupon-marketplace/internal/domain"
	"github.com/azizikri/coupon-marketplace/internal/usecase"
	"github.com/twmb/franz-go/pkg/kgo"
)

// EventPublisher writes lifecycle events to the events topic, keyed by
// coupon id so each coupon's events stay ordered.
type EventPublisher struct {
	producer Producer
	topic    string
}

func NewEventPublisher(producer Producer) *EventPublisher {
	return &EventPublisher{producer: producer, topic: TopicEvents}
}

func (p *EventPublisher) Publish(ctx context.Context, event domain.CouponEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.CouponID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

var _ usecase.EventPublisher = (*EventPublisher)(nil)

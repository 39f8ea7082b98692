package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"waste-track/tracking/tracking-backend/internal/shipments"
)

// Writer is the part of kafka.Writer the publisher uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes shipment events to a kafka topic, keyed by shipment ID
// so events of one shipment stay ordered within a partition.
type Publisher struct {
	writer Writer
	logger *zap.Logger
}

// NewPublisher creates a publisher writing to topic on brokers
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewPublisherWithWriter(w, logger)
}

// NewPublisherWithWriter allows injecting a test writer
func NewPublisherWithWriter(w Writer, logger *zap.Logger) *Publisher {
	return &Publisher{writer: w, logger: logger}
}

// Publish implements shipments.EventPublisher
func (p *Publisher) Publish(ctx context.Context, event shipments.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ShipmentID.String()),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s event: %w", event.Type, err)
	}

	p.logger.Debug("Shipment event published",
		zap.String("type", event.Type),
		zap.String("shipment_id", event.ShipmentID.String()))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

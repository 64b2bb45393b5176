package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xbcsmith/xzepr/internal/common/config"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, event CloudEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	logger.Info("kafka publisher configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return &KafkaPublisher{writer: writer, topic: cfg.Topic, logger: logger}
}

// Publish writes the event keyed by subject so all events about one
// resource land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event CloudEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid cloud event: %w", err)
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode cloud event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/cloudevents+json")},
			{Key: "ce_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", p.topic, err)
	}

	p.logger.Debug("published cloud event",
		zap.String("id", event.ID),
		zap.String("type", event.Type),
		zap.String("subject", event.Subject),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops events. It stands in when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, CloudEvent) error { return nil }
func (NoopPublisher) Close() error                              { return nil }

type observedPublisher struct {
	Publisher
	observe func(eventType string, err error)
}

// WithObserver reports the outcome of every Publish to observe.
func WithObserver(p Publisher, observe func(eventType string, err error)) Publisher {
	return &observedPublisher{Publisher: p, observe: observe}
}

func (o *observedPublisher) Publish(ctx context.Context, event CloudEvent) error {
	err := o.Publisher.Publish(ctx, event)
	o.observe(event.Type, err)
	return err
}

// Emit builds and publishes a CloudEvent after a committed change. Failures
// are logged; the change itself already succeeded.
func Emit(ctx context.Context, p Publisher, logger *zap.Logger, eventType, subject string, data any) {
	event, err := NewCloudEvent(eventType, subject, data)
	if err == nil {
		err = p.Publish(ctx, event)
	}
	if err != nil {
		logger.Warn("failed to publish cloud event",
			zap.String("type", eventType),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

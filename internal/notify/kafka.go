package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"bookwise/backend/internal/kafkax"
)

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by provider so one provider's events stay ordered.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewKafkaPublisher(writer MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.ProviderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is used when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log.With(slog.String("component", "notify"))}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	p.log.InfoContext(ctx, "appointment event",
		slog.String("event_type", ev.EventType),
		slog.String("appointment_id", ev.AppointmentID),
		slog.String("status", ev.Status),
	)
	return nil
}

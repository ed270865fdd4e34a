package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/kafkax"
	"bookwise/backend/internal/observability/metrics"
	"bookwise/backend/internal/service/booking"
	"bookwise/backend/internal/store"
)

// Callback is a collaborator's request to advance an appointment. Either Event names a
// lifecycle event directly or Type names a collaborator event mapped by typeEvents.
type Callback struct {
	AppointmentID string `json:"appointment_id"`
	Event         string `json:"event,omitempty"`
	Type          string `json:"type,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

var typeEvents = map[string]domain.Event{
	"payment.confirmed": domain.EventConfirm,
	"payment.failed":    domain.EventCancel,
}

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Transitioner interface {
	Transition(ctx context.Context, in booking.TransitionInput) (domain.Appointment, error)
}

type Config struct {
	Brokers []string
	GroupID string
	Topic   string
}

func NewKafkaReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer applies callbacks in order. A message is committed once it has been applied or
// rejected as unprocessable; transient failures are retried before moving on.
type Consumer struct {
	reader      Reader
	engine      Transitioner
	metrics     *metrics.BookingMetrics
	log         *slog.Logger
	tracer      trace.Tracer
	maxAttempts int
	backoff     time.Duration
}

func NewConsumer(reader Reader, engine Transitioner, m *metrics.BookingMetrics, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		reader:      reader,
		engine:      engine,
		metrics:     m,
		log:         log.With(slog.String("component", "callbacks")),
		tracer:      otel.Tracer("bookwise/events"),
		maxAttempts: 5,
		backoff:     time.Second,
	}
}

// Run blocks until ctx is cancelled. The reader is closed on return.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, "kafka fetch failed", slog.Any("err", err))
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, "kafka commit failed", slog.Any("err", err), slog.Int64("offset", msg.Offset))
		}
	}
}

// process reports false only when ctx ended before the message was settled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	msgCtx := kafkax.ExtractTraceContext(ctx, msg)
	msgCtx, span := c.tracer.Start(msgCtx, "callbacks.consume", trace.WithAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	))
	defer span.End()

	in, err := decode(msg)
	if err != nil {
		c.reject(msgCtx, msg, err)
		return true
	}
	span.SetAttributes(attribute.String("appointment_id", in.AppointmentID.String()))

	for attempt := 1; ; attempt++ {
		_, err := c.engine.Transition(msgCtx, in)
		switch {
		case err == nil:
			c.metrics.ObserveCallback("applied")
			return true
		case permanent(err):
			c.reject(msgCtx, msg, err)
			return true
		case attempt >= c.maxAttempts:
			span.RecordError(err)
			c.metrics.ObserveCallback("failed")
			c.log.ErrorContext(msgCtx, "callback dropped after retries",
				slog.String("appointment_id", in.AppointmentID.String()),
				slog.Int("attempts", attempt),
				slog.Any("err", err),
			)
			return true
		}

		c.log.WarnContext(msgCtx, "callback failed; retrying", slog.Int("attempt", attempt), slog.Any("err", err))
		if !sleep(ctx, c.backoff*time.Duration(attempt)) {
			return false
		}
	}
}

func (c *Consumer) reject(ctx context.Context, msg kafka.Message, err error) {
	c.metrics.ObserveCallback("rejected")
	c.log.WarnContext(ctx, "callback rejected",
		slog.String("event_id", kafkax.HeaderValue(msg.Headers, "event_id")),
		slog.Int64("offset", msg.Offset),
		slog.Any("err", err),
	)
}

func decode(msg kafka.Message) (booking.TransitionInput, error) {
	var cb Callback
	if err := json.Unmarshal(msg.Value, &cb); err != nil {
		return booking.TransitionInput{}, fmt.Errorf("decode callback: %w", err)
	}

	id, err := uuid.Parse(strings.TrimSpace(cb.AppointmentID))
	if err != nil {
		return booking.TransitionInput{}, fmt.Errorf("appointment_id: %w", err)
	}

	var ev domain.Event
	switch {
	case cb.Event != "":
		if ev, err = domain.ParseEvent(cb.Event); err != nil {
			return booking.TransitionInput{}, err
		}
	case cb.Type != "":
		mapped, ok := typeEvents[cb.Type]
		if !ok {
			return booking.TransitionInput{}, fmt.Errorf("unsupported callback type %q", cb.Type)
		}
		ev = mapped
	default:
		return booking.TransitionInput{}, errors.New("callback names no event")
	}

	actor, err := domain.ParseActor(cb.Actor)
	if err != nil {
		return booking.TransitionInput{}, err
	}

	return booking.TransitionInput{AppointmentID: id, Event: ev, Actor: actor, Reason: cb.Reason}, nil
}

func permanent(err error) bool {
	var vErr *booking.ValidationError
	return errors.As(err, &vErr) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, store.ErrNotFound)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

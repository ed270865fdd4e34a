package notify

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/observability/metrics"
)

const publishTimeout = 10 * time.Second

type queued struct {
	ev   Event
	span trace.SpanContext
}

// Dispatcher decouples callers from delivery: AppointmentChanged never blocks, and a full queue
// drops the event with a log line.
type Dispatcher struct {
	queue     chan queued
	publisher Publisher
	metrics   *metrics.BookingMetrics
	log       *slog.Logger
	now       func() time.Time
}

func NewDispatcher(publisher Publisher, queueSize int, m *metrics.BookingMetrics, log *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		queue:     make(chan queued, queueSize),
		publisher: publisher,
		metrics:   m,
		log:       log.With(slog.String("component", "notify")),
		now:       time.Now,
	}
}

func (d *Dispatcher) AppointmentChanged(ctx context.Context, appt domain.Appointment, eventType string) {
	ev, err := NewEvent(appt, eventType, d.now())
	if err != nil {
		d.log.ErrorContext(ctx, "notification build failed", slog.Any("err", err))
		return
	}

	select {
	case d.queue <- queued{ev: ev, span: trace.SpanContextFromContext(ctx)}:
		d.metrics.ObserveNotification("queued")
	default:
		d.metrics.ObserveNotification("dropped")
		d.log.WarnContext(ctx, "notification queue full; dropping event",
			slog.String("event_type", eventType),
			slog.String("appointment_id", ev.AppointmentID),
		)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case q := <-d.queue:
			d.publish(q)
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case q := <-d.queue:
			d.publish(q)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(q queued) {
	ctx := trace.ContextWithSpanContext(context.Background(), q.span)
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, q.ev); err != nil {
		d.metrics.ObserveNotification("failed")
		d.log.ErrorContext(ctx, "notification publish failed",
			slog.String("event_type", q.ev.EventType),
			slog.String("appointment_id", q.ev.AppointmentID),
			slog.Any("err", err),
		)
		return
	}
	d.metrics.ObserveNotification("published")
}

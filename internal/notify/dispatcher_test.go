package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/kafkax"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, ev Event) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func sampleAppointment() domain.Appointment {
	return domain.Appointment{
		ID:          uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		ProviderID:  "prov-1",
		RequesterID: "req-1",
		Date:        domain.NewDate(2024, 6, 10),
		StartTime:   domain.NewTimeOfDay(9, 0),
		EndTime:     domain.NewTimeOfDay(10, 0),
		Status:      domain.StatusPending,
		Timezone:    "UTC",
		AmountCents: 6000,
		Currency:    "USD",
	}
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, 1, nil, discardLogger())

	done := make(chan struct{})
	go func() {
		d.AppointmentChanged(context.Background(), sampleAppointment(), "booking.appointment.requested.v1")
		d.AppointmentChanged(context.Background(), sampleAppointment(), "booking.appointment.requested.v1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("AppointmentChanged blocked on a full queue")
	}
	if len(d.queue) != 1 {
		t.Fatalf("queued = %d, want 1", len(d.queue))
	}
}

func TestDispatcher_RunPublishesAndFlushes(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewDispatcher(pub, 8, nil, discardLogger())

	for i := 0; i < 3; i++ {
		d.AppointmentChanged(context.Background(), sampleAppointment(), "booking.appointment.confirmed.v1")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if pub.count() != 3 {
		t.Fatalf("published = %d, want 3", pub.count())
	}
	if pub.events[0].EventType != "booking.appointment.confirmed.v1" || pub.events[0].Date != "2024-06-10" {
		t.Fatalf("event = %+v", pub.events[0])
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_KeysByProvider(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, "booking.appointments")

	ev, err := NewEvent(sampleAppointment(), "booking.appointment.requested.v1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewEvent error: %v", err)
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "booking.appointments" || string(msg.Key) != "prov-1" {
		t.Fatalf("topic/key = %s/%s", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, "event_type") != "booking.appointment.requested.v1" {
		t.Fatalf("headers = %v", msg.Headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.AppointmentID != ev.AppointmentID || decoded.StartTime != "09:00" || decoded.AmountCents != 6000 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bookwise/backend/internal/domain"
	"bookwise/backend/internal/observability/metrics"
	"bookwise/backend/internal/store"
)

const (
	EventRequested = "booking.appointment.requested.v1"
	EventConfirmed = "booking.appointment.confirmed.v1"
	EventStarted   = "booking.appointment.started.v1"
	EventCompleted = "booking.appointment.completed.v1"
	EventCancelled = "booking.appointment.cancelled.v1"

	maxIdempotencyKey = 256
	maxNotes          = 2000
	maxReason         = 500
	maxListDays       = 366
)

// Notifier receives appointment changes after they are committed. Implementations must not block.
type Notifier interface {
	AppointmentChanged(ctx context.Context, appt domain.Appointment, eventType string)
}

// AvailabilityReader supplies the provider's merged open windows per date.
type AvailabilityReader interface {
	OpenWindows(ctx context.Context, providerID string, from, to domain.Date) ([]domain.DayWindows, error)
}

type Service struct {
	repo         store.AppointmentRepository
	availability AvailabilityReader
	directory    ProviderDirectory

	notifier    Notifier
	metrics     *metrics.BookingMetrics
	tracer      trace.Tracer
	log         *slog.Logger
	now         func() time.Time
	maxAttempts int
	backoff     time.Duration
	rejectPast  bool
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRetry bounds how often a transient storage failure is retried. backoff grows linearly.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithPastSlotRejection refuses slots whose start is already behind the clock. The check runs
// after availability and overlap, so those errors still take precedence.
func WithPastSlotRejection(enabled bool) Option {
	return func(s *Service) { s.rejectPast = enabled }
}

func NewService(repo store.AppointmentRepository, availability AvailabilityReader, directory ProviderDirectory, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		availability: availability,
		directory:    directory,
		tracer:       otel.Tracer("bookwise/booking"),
		log:          slog.Default(),
		now:          time.Now,
		maxAttempts:  3,
		backoff:      50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "booking"))
	return s
}

type ReserveInput struct {
	ProviderID  string
	RequesterID string

	// Either Date/Start/End in provider-local time, or StartsAt/EndsAt as absolute instants.
	Date     domain.Date
	Start    domain.TimeOfDay
	End      domain.TimeOfDay
	StartsAt time.Time
	EndsAt   time.Time

	Notes          string
	IdempotencyKey string
}

// Reserve atomically checks availability and overlap for the provider and inserts a pending
// appointment. With an idempotency key, repeating the same request returns the stored appointment.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (domain.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Reserve", trace.WithAttributes(
		attribute.String("provider_id", in.ProviderID),
	))
	defer span.End()

	started := s.now()
	appt, created, err := s.reserve(ctx, in)

	outcome := outcomeOf(err)
	if err == nil && !created {
		outcome = "replayed"
	}
	s.metrics.ObserveReservation(outcome, s.now().Sub(started).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, outcome)
		s.logFailure(ctx, "reserve", err, slog.String("provider_id", in.ProviderID), slog.String("requester_id", in.RequesterID))
		return domain.Appointment{}, err
	}

	span.SetAttributes(attribute.String("appointment_id", appt.ID.String()))
	if created {
		s.log.InfoContext(ctx, "appointment requested",
			slog.String("appointment_id", appt.ID.String()),
			slog.String("provider_id", appt.ProviderID),
			slog.String("slot", appt.Slot().String()),
		)
		s.notify(ctx, appt, EventRequested)
	}
	return appt, nil
}

func (s *Service) reserve(ctx context.Context, in ReserveInput) (domain.Appointment, bool, error) {
	providerID := strings.TrimSpace(in.ProviderID)
	requesterID := strings.TrimSpace(in.RequesterID)
	if providerID == "" {
		return domain.Appointment{}, false, validationError("provider_id is required")
	}
	if requesterID == "" {
		return domain.Appointment{}, false, validationError("requester_id is required")
	}
	if len(in.Notes) > maxNotes {
		return domain.Appointment{}, false, validationError("notes too long")
	}

	profile, err := s.directory.Profile(ctx, providerID)
	if err != nil {
		return domain.Appointment{}, false, err
	}
	loc := profile.Location
	if loc == nil {
		loc = time.UTC
	}

	slot, err := s.resolveSlot(in, loc)
	if err != nil {
		return domain.Appointment{}, false, err
	}
	now := s.now().UTC()
	appt := domain.Appointment{
		ProviderID:  providerID,
		RequesterID: requesterID,
		Date:        slot.Date,
		StartTime:   slot.Range.Start,
		EndTime:     slot.Range.End,
		Status:      domain.StatusPending,
		Timezone:    loc.String(),
		AmountCents: domain.Amount(profile.HourlyRateCents, slot.Minutes()),
		Currency:    profile.Currency,
		Notes:       in.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > maxIdempotencyKey {
			return domain.Appointment{}, false, validationError("idempotency_key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("bookwise:reserve:"+providerID+":"+requesterID+":"+key))
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, false, err
		}
		appt.ID = id
	}

	var (
		out     domain.Appointment
		created bool
	)
	err = s.withRetry(ctx, "reserve", func(ctx context.Context) error {
		created = false
		return s.repo.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.ProviderTx) error {
			existing, err := tx.GetAppointment(ctx, appt.ID)
			if err == nil {
				if !existing.SameRequest(appt) {
					return store.ErrIdempotencyConflict
				}
				out = existing
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			day := slot.DayOfWeek()
			rules, err := tx.ListRules(ctx, providerID, &day)
			if err != nil {
				return err
			}
			if !domain.IsOpen(rules, slot.Window()) {
				return ErrNotAvailable
			}

			active, err := tx.ListActiveAppointments(ctx, providerID, slot.Date)
			if err != nil {
				return err
			}
			if _, taken := domain.FirstOverlap(active, slot); taken {
				return store.ErrSlotTaken
			}
			if s.rejectPast && slot.StartsAt(loc).Before(s.now()) {
				return validationError("slot starts in the past")
			}

			a, err := tx.CreateAppointment(ctx, appt)
			if err != nil {
				return err
			}
			out = a
			created = true
			return nil
		})
	})
	if err != nil {
		return domain.Appointment{}, false, err
	}
	return out, created, nil
}

func (s *Service) resolveSlot(in ReserveInput, loc *time.Location) (domain.Slot, error) {
	if in.Date.IsZero() && !in.StartsAt.IsZero() {
		slot, err := domain.SlotFromInstants(in.StartsAt, in.EndsAt, loc)
		if err != nil {
			return domain.Slot{}, wrapValidation("slot", err)
		}
		return slot, nil
	}
	if in.Date.IsZero() {
		return domain.Slot{}, validationError("date is required")
	}
	slot, err := domain.NewSlot(in.Date, in.Start, in.End)
	if err != nil {
		return domain.Slot{}, wrapValidation("slot", err)
	}
	return slot, nil
}

type TransitionInput struct {
	AppointmentID uuid.UUID
	Event         domain.Event
	Actor         domain.Actor
	Reason        string
}

// Transition applies a lifecycle event. Re-applying an event whose target is the current status
// succeeds without change.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (domain.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Transition", trace.WithAttributes(
		attribute.String("appointment_id", in.AppointmentID.String()),
		attribute.String("event", string(in.Event)),
	))
	defer span.End()

	appt, changed, err := s.transition(ctx, in)
	outcome := outcomeOf(err)
	if err == nil && !changed {
		outcome = "noop"
	}
	s.metrics.ObserveTransition(string(in.Event), outcome)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, outcome)
		s.logFailure(ctx, "transition", err, slog.String("appointment_id", in.AppointmentID.String()), slog.String("event", string(in.Event)))
		return domain.Appointment{}, err
	}

	if changed {
		s.log.InfoContext(ctx, "appointment transitioned",
			slog.String("appointment_id", appt.ID.String()),
			slog.String("event", string(in.Event)),
			slog.String("status", string(appt.Status)),
		)
		s.notify(ctx, appt, eventTypeFor(appt.Status))
	}
	return appt, nil
}

func (s *Service) transition(ctx context.Context, in TransitionInput) (domain.Appointment, bool, error) {
	if in.AppointmentID == uuid.Nil {
		return domain.Appointment{}, false, validationError("appointment_id is required")
	}
	if len(in.Reason) > maxReason {
		return domain.Appointment{}, false, validationError("reason too long")
	}
	actor := in.Actor
	if actor == "" {
		actor = domain.ActorSystem
	}

	var (
		out     domain.Appointment
		changed bool
	)
	err := s.withRetry(ctx, "transition", func(ctx context.Context) error {
		changed = false
		a, err := s.repo.UpdateAppointment(ctx, in.AppointmentID, func(cur domain.Appointment) (domain.Appointment, bool, error) {
			next, ok, err := domain.NextStatus(cur.Status, in.Event)
			if err != nil || !ok {
				return cur, false, err
			}

			now := s.now().UTC()
			if in.Event == domain.EventStart {
				startsAt, err := cur.StartsAt()
				if err != nil {
					return cur, false, err
				}
				if now.Before(startsAt) {
					return cur, false, fmt.Errorf("%w: appointment starts at %s", domain.ErrInvalidTransition, startsAt.Format(time.RFC3339))
				}
			}

			cur.Status = next
			cur.UpdatedAt = now
			if next == domain.StatusCancelled {
				cur.CancelledBy = actor
				cur.CancelReason = strings.TrimSpace(in.Reason)
				cur.CancelledAt = &now
			}
			changed = true
			return cur, true, nil
		})
		out = a
		return err
	})
	if err != nil {
		return domain.Appointment{}, false, err
	}
	return out, changed, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) ListForProvider(ctx context.Context, providerID string, from, to domain.Date) ([]domain.Appointment, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	if err := validateListRange(&from, &to); err != nil {
		return nil, err
	}
	return s.repo.ListForProvider(ctx, providerID, from, to)
}

func (s *Service) ListForRequester(ctx context.Context, requesterID string, from, to *domain.Date) ([]domain.Appointment, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, validationError("requester_id is required")
	}
	if from != nil && to != nil {
		if err := validateListRange(from, to); err != nil {
			return nil, err
		}
	}
	return s.repo.ListForRequester(ctx, requesterID, from, to)
}

func validateListRange(from, to *domain.Date) error {
	if from.IsZero() || to.IsZero() {
		return validationError("from and to are required")
	}
	if to.Before(*from) {
		return validationError("to must not be before from")
	}
	if from.DaysUntil(*to) >= maxListDays {
		return validationError(fmt.Sprintf("date range must be at most %d days", maxListDays))
	}
	return nil
}

// Availability returns, per date in [from, to], the provider's open windows minus active
// appointments. It is a hint for callers; Reserve re-checks everything atomically.
func (s *Service) Availability(ctx context.Context, providerID string, from, to domain.Date) ([]domain.DayWindows, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	days, err := s.availability.OpenWindows(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	appts, err := s.repo.ListForProvider(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}

	busy := make(map[domain.Date][]domain.TimeRange)
	for _, a := range appts {
		if a.Status.IsActive() {
			busy[a.Date] = append(busy[a.Date], a.Slot().Range)
		}
	}

	out := make([]domain.DayWindows, 0, len(days))
	for _, d := range days {
		out = append(out, domain.DayWindows{
			Date:      d.Date,
			DayOfWeek: d.DayOfWeek,
			Windows:   domain.SubtractRanges(d.Windows, busy[d.Date]),
		})
	}
	return out, nil
}

func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, store.ErrTransient) || attempt >= s.maxAttempts {
			return err
		}

		s.metrics.ObserveRetry(op)
		s.log.WarnContext(ctx, "transient storage failure; retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Any("err", err),
		)

		timer := time.NewTimer(s.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) notify(ctx context.Context, appt domain.Appointment, eventType string) {
	if s.notifier == nil || eventType == "" {
		return
	}
	s.notifier.AppointmentChanged(ctx, appt, eventType)
}

func eventTypeFor(status domain.Status) string {
	switch status {
	case domain.StatusConfirmed:
		return EventConfirmed
	case domain.StatusInProgress:
		return EventStarted
	case domain.StatusCompleted:
		return EventCompleted
	case domain.StatusCancelled:
		return EventCancelled
	default:
		return ""
	}
}

func outcomeOf(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &vErr), errors.Is(err, domain.ErrInvalidTimeRange), errors.Is(err, domain.ErrCrossesDayBoundary):
		return "invalid"
	case errors.Is(err, ErrNotAvailable):
		return "not_available"
	case errors.Is(err, store.ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, store.ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrTransient):
		return "transient"
	default:
		return "error"
	}
}

func (s *Service) logFailure(ctx context.Context, op string, err error, attrs ...any) {
	attrs = append(attrs, slog.String("op", op), slog.Any("err", err))
	switch outcomeOf(err) {
	case "invalid":
		s.log.WarnContext(ctx, "request rejected", attrs...)
	case "not_available", "slot_taken", "idempotency_conflict", "invalid_transition", "not_found":
		s.log.InfoContext(ctx, "request conflicted", attrs...)
	default:
		s.log.ErrorContext(ctx, "request failed", attrs...)
	}
}
